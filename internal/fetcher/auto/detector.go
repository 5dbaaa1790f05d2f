package auto

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

const defaultMinBodyBytes = 2048

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Detector flags responses that look like a client-rendered shell rather
// than server-rendered markup.
type Detector struct {
	// Selectors lists the containers the parsers read. A page matching none
	// of them is promoted.
	Selectors    []string
	MinBodyBytes int
}

// NewDetector builds a Detector over the given container selectors.
func NewDetector(selectors ...string) *Detector {
	return &Detector{Selectors: selectors, MinBodyBytes: defaultMinBodyBytes}
}

// ShouldPromote reports whether resp should be fetched again in a browser.
// Only 200 responses are considered. With selectors configured the decision
// is whether any of them matches; otherwise script density and framework
// mount points decide.
func (d *Detector) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(d.Selectors) > 0 {
		return !d.matchesAny(body)
	}
	minBytes := d.MinBodyBytes
	if minBytes <= 0 {
		minBytes = defaultMinBodyBytes
	}
	if len(body) < minBytes && scriptHeavy(body) {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (d *Detector) matchesAny(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.Selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether <script> elements span at least a quarter of
// the body.
func scriptHeavy(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		start := bytes.Index(lower[pos:], []byte("<script"))
		if start == -1 {
			break
		}
		start += pos
		end := bytes.Index(lower[start:], []byte("</script>"))
		if end == -1 {
			covered += total - start
			break
		}
		next := start + end + len("</script>")
		covered += next - start
		pos = next
	}
	return covered > 0 && covered*100/total >= 25
}
