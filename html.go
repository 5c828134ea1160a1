package indieauth

import (
	"io"
	"net/url"
	"strings"

	"github.com/tomnomnom/linkheader"
	"golang.org/x/net/html"
	"willnorris.com/go/microformats"
)

type htmlParser struct{}

func (htmlParser) Parse(r io.Reader, base *url.URL) (*microformats.Data, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	return microformats.ParseNode(root, base), nil
}

// mergeHeaderLinks puts relations declared in Link headers ahead of those found
// in the document, so that they win when the first link is taken.
func mergeHeaderLinks(data *microformats.Data, headers []string, base *url.URL) {
	if len(headers) == 0 {
		return
	}

	found := map[string][]string{}
	var order []string

	for _, link := range linkheader.ParseMultiple(headers) {
		linkURL, err := base.Parse(link.URL)
		if err != nil {
			continue
		}

		for _, rel := range strings.Fields(link.Rel) {
			if _, ok := found[rel]; !ok {
				order = append(order, rel)
			}
			found[rel] = append(found[rel], linkURL.String())
		}
	}

	if data.Rels == nil {
		data.Rels = map[string][]string{}
	}

	for _, rel := range order {
		data.Rels[rel] = append(found[rel], data.Rels[rel]...)
	}
}
