package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hpungsan/overseer/internal/errors"
)

var markdown = goldmark.New()

// ExtractJSON returns the JSON payload of a response. Models sometimes wrap structured
// output in a fenced code block; the first json (or untagged) fence wins, otherwise the
// trimmed text is returned.
func ExtractJSON(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}

	src := []byte(response)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var found []byte
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(block.Language(src)))
		if lang != "" && lang != "json" {
			return ast.WalkSkipChildren, nil
		}
		var buf bytes.Buffer
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		found = buf.Bytes()
		return ast.WalkStop, nil
	})

	if found != nil {
		return strings.TrimSpace(string(found))
	}
	return trimmed
}

// DecodeJSON parses a response into T. Any failure is an ErrMalformedResponse.
func DecodeJSON[T any](response string) (T, error) {
	var out T
	payload := ExtractJSON(response)
	if payload == "" {
		return out, errors.NewMalformedResponse("empty response")
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, errors.NewMalformedResponse(err.Error())
	}
	return out, nil
}
