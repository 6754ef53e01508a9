package hydration

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"golang.org/x/net/html"

	"esm-federation/internal/types"
)

// ExtractTransfer finds the transfer payload in a server-rendered page. The
// bool is false when the page carries none.
func ExtractTransfer(page io.Reader) (types.TransferManifest, bool, error) {
	doc, err := html.Parse(page)
	if err != nil {
		return types.TransferManifest{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse server-rendered page").
			WithCause(err)
	}
	script := findScript(doc)
	if script == nil {
		return types.TransferManifest{}, false, nil
	}
	var body strings.Builder
	for c := script.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			body.WriteString(c.Data)
		}
	}
	var manifest types.TransferManifest
	if err := json.Unmarshal([]byte(body.String()), &manifest); err != nil {
		return types.TransferManifest{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid hydration payload").
			WithCause(err)
	}
	return manifest, true, nil
}

func findScript(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "script" && attr(n, "id") == ScriptID {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findScript(c); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
