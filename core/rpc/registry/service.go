// Package registry maps the (service, method) envelope carried in a
// request frame's metadata onto a reflectively-invoked Go method, the
// RPC counterpart of the HTTP side's router: it only dispatches to
// what the host registered, and makes no policy decision of its own.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrServiceNotFound = errors.New("registry: service not found")
	ErrMethodNotFound  = errors.New("registry: method not found")
	ErrNoMethods       = errors.New("registry: service exposes no usable methods")
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Method is one callable endpoint: a bound receiver plus the argument
// and reply types the frame payload is decoded into and encoded from.
type Method struct {
	Name      string
	ArgType   reflect.Type // element type; the wire carries *ArgType
	ReplyType reflect.Type

	recv reflect.Value
	fn   reflect.Value
}

// Call decodes nothing itself: it takes the already-decoded *ArgType
// value, invokes the bound method, and hands back whatever the method
// returned. The context is checked before the invoke so a caller that
// gave up never burns a method call.
func (m *Method) Call(ctx context.Context, arg interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	av := reflect.ValueOf(arg)
	if av.Type() != reflect.PointerTo(m.ArgType) {
		return nil, fmt.Errorf("registry: argument is %v, method %s wants %v",
			av.Type(), m.Name, reflect.PointerTo(m.ArgType))
	}

	out := m.fn.Call([]reflect.Value{m.recv, reflect.ValueOf(ctx), av})
	if !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

type service struct {
	name    string
	methods map[string]*Method
}

// Registry holds every registered service, keyed by the name the wire
// envelope uses.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*service
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*service)}
}

// Register scans impl for exported methods of the shape
//
//	func (s S) Name(ctx context.Context, arg *Arg) (*Reply, error)
//
// and exposes each one under serviceName. Methods of any other shape
// are skipped; a service with nothing usable is rejected outright so
// a misdeclared handler set fails at startup, not at the first call.
func (r *Registry) Register(serviceName string, impl interface{}) error {
	rv := reflect.ValueOf(impl)
	rt := rv.Type()

	svc := &service{name: serviceName, methods: make(map[string]*Method)}
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if m.PkgPath != "" {
			continue // unexported
		}
		if !methodShapeOK(m.Type) {
			continue
		}
		svc.methods[m.Name] = &Method{
			Name:      m.Name,
			ArgType:   m.Type.In(2).Elem(),
			ReplyType: m.Type.Out(0).Elem(),
			recv:      rv,
			fn:        m.Func,
		}
	}
	if len(svc.methods) == 0 {
		return fmt.Errorf("%w: %s (%T)", ErrNoMethods, serviceName, impl)
	}

	r.mu.Lock()
	r.services[serviceName] = svc
	r.mu.Unlock()
	return nil
}

// methodShapeOK checks one reflected method type against the required
// (receiver, context.Context, *Arg) -> (*Reply, error) shape.
func methodShapeOK(mt reflect.Type) bool {
	if mt.NumIn() != 3 || mt.NumOut() != 2 {
		return false
	}
	if !mt.In(1).Implements(ctxType) {
		return false
	}
	if mt.In(2).Kind() != reflect.Pointer || mt.Out(0).Kind() != reflect.Pointer {
		return false
	}
	return mt.Out(1).Implements(errType)
}

// Method resolves the wire envelope's (service, method) pair.
func (r *Registry) Method(serviceName, methodName string) (*Method, error) {
	r.mu.RLock()
	svc, ok := r.services[serviceName]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrServiceNotFound
	}
	m, ok := svc.methods[methodName]
	if !ok {
		return nil, ErrMethodNotFound
	}
	return m, nil
}

// Call resolves and invokes in one step, for callers that don't need
// the Method's type information beforehand.
func (r *Registry) Call(ctx context.Context, serviceName, methodName string, arg interface{}) (interface{}, error) {
	m, err := r.Method(serviceName, methodName)
	if err != nil {
		return nil, err
	}
	return m.Call(ctx, arg)
}

// Services lists the registered service names.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}
