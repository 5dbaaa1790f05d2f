package enrich

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

// Section labels, in the order the provider must emit them.
const (
	LabelSummary     = "SUMMARY:"
	LabelTweet       = "TWEET:"
	LabelExplanation = "EXPLANATION:"
)

const systemPrompt = "You are an assistant that summarizes presidential actions and executive orders " +
	"for a general audience. Stay factual and neutral and always use the exact section labels requested."

const userPromptTemplate = `Read the presidential action below and produce three sections.

1. A summary of about 500 words covering what the action does, who it affects and when it takes effect.
2. A tweet of at most 280 characters announcing the action. End it with #USA #POTUS #Trump
3. An explanation of about 500 words written for a high-school student, covering why the action matters.

Format your answer exactly like this, with each label at the start of a line:
SUMMARY: <summary>
TWEET: <tweet>
EXPLANATION: <explanation>

Presidential action:
%s`

func userPrompt(body string) string {
	return fmt.Sprintf(userPromptTemplate, body)
}

// ParseResponse splits a completion on the three section labels. Every label
// must be present and appear in SUMMARY, TWEET, EXPLANATION order; otherwise
// a *crawler.MalformedResponseError names the first offending label.
func ParseResponse(text string) (crawler.Enrichment, error) {
	summaryAt := strings.Index(text, LabelSummary)
	if summaryAt < 0 {
		return crawler.Enrichment{}, &crawler.MalformedResponseError{Label: LabelSummary}
	}
	rest := summaryAt + len(LabelSummary)

	tweetAt := strings.Index(text[rest:], LabelTweet)
	if tweetAt < 0 {
		return crawler.Enrichment{}, &crawler.MalformedResponseError{Label: LabelTweet}
	}
	tweetAt += rest

	explanationAt := strings.Index(text[tweetAt+len(LabelTweet):], LabelExplanation)
	if explanationAt < 0 {
		return crawler.Enrichment{}, &crawler.MalformedResponseError{Label: LabelExplanation}
	}
	explanationAt += tweetAt + len(LabelTweet)

	return crawler.Enrichment{
		Summary:     clean(text[rest:tweetAt]),
		Excerpt:     clean(text[tweetAt+len(LabelTweet) : explanationAt]),
		Explanation: clean(text[explanationAt+len(LabelExplanation):]),
	}, nil
}

// clean trims whitespace and the markdown bold some models wrap labels in.
func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*"))
}
