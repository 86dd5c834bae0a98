// Package router is a small fasthttp router with {name} path parameters,
// per-method dispatch and middleware.
package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

// Middleware wraps a handler.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

type Router struct {
	routes     map[string][]route
	middleware []Middleware
	notFound   fasthttp.RequestHandler
}

type route struct {
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Use appends middleware. It applies to routes registered afterwards.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Handler satisfies the fasthttp.Server handler interface.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())
	for _, rt := range r.routes[method] {
		if values, ok := match(path, rt.segments); ok {
			for k, v := range values {
				ctx.SetUserValue(k, v)
			}
			rt.handler(ctx)
			return
		}
	}
	if allowed := r.allowed(path); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
}

// allowed lists the methods that have a route matching path.
func (r *Router) allowed(path string) []string {
	var out []string
	for method, list := range r.routes {
		for _, rt := range list {
			if _, ok := match(path, rt.segments); ok {
				out = append(out, method)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodPut, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodDelete, path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	r.routes[method] = append(r.routes[method], route{segments: parse(path), handler: h})
}

// Param returns the value of a {name} segment matched for ctx.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func parse(path string) []segment {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return []segment{{name: ""}}
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.TrimPrefix(path, "/")
	if len(segs) == 1 && !segs[0].isParam && segs[0].name == "" {
		return map[string]string{}, path == ""
	}
	parts := []string{}
	if path != "" {
		parts = strings.Split(path, "/")
	}
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
