package agents

import "strings"

// RouteForPath maps a corpus-relative document path to the public site
// route, docusaurus style: extensions and trailing /index segments are
// stripped and the docs/ and blog/ prefixes become absolute.
func RouteForPath(path string) string {
	route := strings.TrimSpace(path)
	route = strings.TrimSuffix(route, ".mdx")
	route = strings.TrimSuffix(route, ".md")
	route = strings.TrimSuffix(route, "/index")
	if route == "index" {
		route = ""
	}

	switch {
	case strings.HasPrefix(route, "docs/"):
		route = "/docs/" + strings.TrimPrefix(route, "docs/")
	case strings.HasPrefix(route, "blog/"):
		route = "/blog/" + strings.TrimPrefix(route, "blog/")
	case !strings.HasPrefix(route, "/"):
		route = "/" + route
	}

	for strings.Contains(route, "//") {
		route = strings.ReplaceAll(route, "//", "/")
	}
	return route
}
