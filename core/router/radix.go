package router

import (
	"strings"

	"github.com/sabrq/httpd/core/optimize"
)

// HandlerFunc is a registered route target. The parameter is opaque
// to this package; app.App binds it to its own request context.
type HandlerFunc func(ctx any)

// RadixRouter is a compressed path tree with one node per path
// segment. Lookups walk segment by segment, preferring a static child
// over a ":param" child over a "*catchall" child, so an exact route
// always wins against a parameterised one registered for the same
// shape.
type RadixRouter struct {
	root *segnode
}

type segnode struct {
	// static children, keyed by their segment text; index holds each
	// child's first byte for a cheap pre-filter before the full
	// segment compare.
	index    string
	children []*segnode
	segment  string

	// wildcard children: at most one ":param" and one "*catchall".
	paramChild *segnode
	catchChild *segnode
	wildcard   string // parameter name for a wildcard node

	handlers map[string]HandlerFunc // method -> handler
}

// NewRadixRouter creates an empty router.
func NewRadixRouter() *RadixRouter {
	return &RadixRouter{root: &segnode{}}
}

// segments splits a rooted path into its slash-separated pieces; the
// bare root "/" maps to no segments at all.
func segments(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Add registers handler for method+path. Wildcard segments are
// ":name" (one segment) and "*name" (the rest of the path, final
// segment only). Conflicting wildcard names on the same node panic at
// registration, never at lookup.
func (r *RadixRouter) Add(method, path string, handler HandlerFunc) {
	if path == "" || path[0] != '/' {
		panic("path must begin with '/'")
	}

	n := r.root
	segs := segments(path)
	for i, seg := range segs {
		switch {
		case seg == "":
			panic("empty path segment in " + path)

		case seg[0] == ':':
			if len(seg) < 2 {
				panic("wildcards must be named")
			}
			name := seg[1:]
			if n.paramChild == nil {
				n.paramChild = &segnode{wildcard: name}
			} else if n.paramChild.wildcard != name {
				panic("conflicting parameter names for one path position: :" +
					n.paramChild.wildcard + " vs :" + name)
			}
			n = n.paramChild

		case seg[0] == '*':
			if len(seg) < 2 {
				panic("wildcards must be named")
			}
			if i != len(segs)-1 {
				panic("catch-all routes are only allowed at the end of the path")
			}
			name := seg[1:]
			if n.catchChild == nil {
				n.catchChild = &segnode{wildcard: name}
			} else if n.catchChild.wildcard != name {
				panic("conflicting catch-all names for one path position: *" +
					n.catchChild.wildcard + " vs *" + name)
			}
			n = n.catchChild

		default:
			n = n.staticChild(seg)
		}
	}

	if n.handlers == nil {
		n.handlers = make(map[string]HandlerFunc)
	}
	n.handlers[method] = handler
}

// staticChild finds or creates the static child for seg.
func (n *segnode) staticChild(seg string) *segnode {
	first := seg[0]
	for i := 0; i < len(n.index); i++ {
		if n.index[i] == first && n.children[i].segment == seg {
			return n.children[i]
		}
	}
	child := &segnode{segment: seg}
	n.index += string(first)
	n.children = append(n.children, child)
	return child
}

// Find resolves method+path to a handler and any captured wildcard
// values. A miss returns (nil, nil).
func (r *RadixRouter) Find(method, path string) (HandlerFunc, map[string]string) {
	n := r.root
	var params map[string]string

	rest := strings.TrimPrefix(path, "/")
	for rest != "" {
		seg := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seg, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}

		if child := n.matchStatic(seg); child != nil {
			n = child
			continue
		}
		if n.paramChild != nil && seg != "" {
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[n.paramChild.wildcard] = seg
			n = n.paramChild
			continue
		}
		if n.catchChild != nil {
			if params == nil {
				params = make(map[string]string, 1)
			}
			if rest == "" {
				params[n.catchChild.wildcard] = seg
			} else {
				params[n.catchChild.wildcard] = seg + "/" + rest
			}
			n = n.catchChild
			rest = ""
			continue
		}
		return nil, nil
	}

	handler := n.handlers[method]
	if handler == nil {
		return nil, nil
	}
	return handler, params
}

// matchStatic returns the static child whose segment equals seg. The
// index pre-filter rejects on the first byte; survivors go through the
// CPU-feature-dispatched comparator, which pays off on the long
// static segments API paths tend to carry.
func (n *segnode) matchStatic(seg string) *segnode {
	if seg == "" {
		return nil
	}
	first := seg[0]
	for i := 0; i < len(n.index); i++ {
		if n.index[i] != first {
			continue
		}
		child := n.children[i]
		if optimize.ComparePathSIMD(child.segment, seg) {
			return child
		}
	}
	return nil
}
