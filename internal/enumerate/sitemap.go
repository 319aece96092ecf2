package enumerate

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlURLSet is the root element of a standard sitemap XML file.
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlLoc `xml:"url"`
}

// xmlSitemapIndex is the root element of a sitemap index XML file.
type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []xmlLoc `xml:"sitemap"`
}

type xmlLoc struct {
	Loc string `xml:"loc"`
}

// parseSitemap decodes either a <urlset> or a <sitemapindex>. It returns the
// page locations of a urlset, or the child sitemap locations of an index.
func parseSitemap(body []byte) (pages, children []string, err error) {
	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, nil, fmt.Errorf("parse sitemap: %w", err)
	}

	switch root.XMLName.Local {
	case "urlset":
		var set xmlURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, nil, fmt.Errorf("parse sitemap: %w", err)
		}
		return locs(set.URLs), nil, nil
	case "sitemapindex":
		var index xmlSitemapIndex
		if err := xml.Unmarshal(body, &index); err != nil {
			return nil, nil, fmt.Errorf("parse sitemap index: %w", err)
		}
		return nil, locs(index.Sitemaps), nil
	default:
		return nil, nil, fmt.Errorf("parse sitemap: unexpected root element %q", root.XMLName.Local)
	}
}

func locs(entries []xmlLoc) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if loc := strings.TrimSpace(e.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

// robotsSitemaps returns the Sitemap: directives of a robots.txt body.
func robotsSitemaps(r io.Reader) []string {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "sitemap") {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			out = append(out, v)
		}
	}
	return out
}
