// Package problem provides closed, per-domain error registries and the
// conversion of their errors into problem documents (RFC 9457 shape).
//
// Every error code in a program is declared up front with DefineDomain:
//
//	var (
//	    billing        = problem.MustDefineDomain("billing", problem.KindSpec{Name: "CardDeclined", Status: 402})
//	    ErrCardDeclined = billing.Kind("CardDeclined")
//	)
//
//	return ErrCardDeclined.New(problem.WithDetail("insufficient funds"))
//
// Nothing outside a registry can construct an *Error, which keeps the set of
// codes a service can emit closed, enumerable and documentable.
package problem

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DefaultBaseURI prefixes the "type" member of problem documents built from
// the default registry.
const DefaultBaseURI = "/errors"

var (
	domainNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	kindNamePattern   = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
)

// KindSpec declares one error kind of a domain.
type KindSpec struct {
	// Name is the PascalCase kind name, e.g. "RateLimited".
	Name string

	// Status is the HTTP status emitted for this kind (400-599).
	Status int

	// Title is the i18n key for the human-readable title.
	// Default: "errors.<domain>.<kind-slug>"
	Title string
}

// Registry holds error domains. It is append-only until Seal is called.
type Registry struct {
	mu      sync.RWMutex
	baseURI string
	domains map[string]*Domain
	codes   map[string]*Kind
	sealed  bool
}

// NewRegistry creates an empty registry whose problem documents use baseURI
// as the prefix of their "type" member.
func NewRegistry(baseURI string) *Registry {
	return &Registry{
		baseURI: strings.TrimRight(baseURI, "/"),
		domains: make(map[string]*Domain),
		codes:   make(map[string]*Kind),
	}
}

var defaultRegistry = NewRegistry(DefaultBaseURI)

// Default returns the process-wide registry used by the package-level helpers.
func Default() *Registry {
	return defaultRegistry
}

// DefineDomain registers a domain and its kinds in the default registry.
func DefineDomain(name string, kinds ...KindSpec) (*Domain, error) {
	return defaultRegistry.DefineDomain(name, kinds...)
}

// MustDefineDomain is like DefineDomain but panics on error.
// It is meant for package-level variable declarations.
func MustDefineDomain(name string, kinds ...KindSpec) *Domain {
	return defaultRegistry.MustDefineDomain(name, kinds...)
}

// DefineDomain registers a domain with its closed set of kinds.
// Domain names are lower-case kebab identifiers, kind names are PascalCase,
// and both must be unique.
func (r *Registry) DefineDomain(name string, kinds ...KindSpec) (*Domain, error) {
	if !domainNamePattern.MatchString(name) {
		return nil, fmt.Errorf("problem: invalid domain name %q", name)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("problem: domain %q declares no kinds", name)
	}

	d := &Domain{
		name:     name,
		registry: r,
		kinds:    make(map[string]*Kind, len(kinds)),
	}

	for _, spec := range kinds {
		if !kindNamePattern.MatchString(spec.Name) {
			return nil, fmt.Errorf("problem: invalid kind name %q in domain %q", spec.Name, name)
		}
		if spec.Status < 400 || spec.Status > 599 {
			return nil, fmt.Errorf("problem: kind %s/%s has non-error status %d", name, spec.Name, spec.Status)
		}
		if _, dup := d.kinds[spec.Name]; dup {
			return nil, fmt.Errorf("problem: duplicate kind %q in domain %q", spec.Name, name)
		}

		slug := kebab(spec.Name)
		title := spec.Title
		if title == "" {
			title = "errors." + name + "." + slug
		}

		k := &Kind{
			domain: d,
			name:   spec.Name,
			slug:   slug,
			code:   name + "/" + slug,
			status: spec.Status,
			title:  title,
		}
		d.kinds[spec.Name] = k
		d.ordered = append(d.ordered, k)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, fmt.Errorf("problem: registry is sealed, cannot define domain %q", name)
	}
	if _, exists := r.domains[name]; exists {
		return nil, fmt.Errorf("problem: domain %q already defined", name)
	}
	for _, k := range d.ordered {
		if _, exists := r.codes[k.code]; exists {
			return nil, fmt.Errorf("problem: code %q already defined", k.code)
		}
	}

	r.domains[name] = d
	for _, k := range d.ordered {
		r.codes[k.code] = k
	}

	return d, nil
}

// MustDefineDomain is like DefineDomain but panics on error.
func (r *Registry) MustDefineDomain(name string, kinds ...KindSpec) *Domain {
	d, err := r.DefineDomain(name, kinds...)
	if err != nil {
		panic(err)
	}
	return d
}

// Seal stops the registry from accepting new domains. Call it once startup
// wiring is complete.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Domains returns the registered domains sorted by name.
func (r *Registry) Domains() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Domain, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Lookup finds the kind registered under code ("<domain>/<kind-slug>").
func (r *Registry) Lookup(code string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.codes[code]
	return k, ok
}

// BaseURI returns the prefix used for problem document types.
func (r *Registry) BaseURI() string {
	return r.baseURI
}

// Domain is a named, closed set of error kinds.
type Domain struct {
	name     string
	registry *Registry
	kinds    map[string]*Kind
	ordered  []*Kind
}

// Name returns the domain name.
func (d *Domain) Name() string {
	return d.name
}

// Kind returns the factory for the named kind. It panics when the kind was
// not declared, so a typo fails at package initialisation rather than at the
// failure site.
func (d *Domain) Kind(name string) *Kind {
	k, ok := d.kinds[name]
	if !ok {
		panic(fmt.Sprintf("problem: domain %q has no kind %q", d.name, name))
	}
	return k
}

// Kinds returns the kinds in declaration order.
func (d *Domain) Kinds() []*Kind {
	out := make([]*Kind, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// ToProblem converts err into a problem document. It is equivalent to the
// package-level ToProblem and exists so callers holding a domain need no
// other import.
func (d *Domain) ToProblem(err *Error, instance string) Document {
	return ToProblem(err, instance)
}

// Kind is the factory for one registered error kind. A *Kind also satisfies
// error so it can be used as an errors.Is target:
//
//	if errors.Is(err, aigen.ErrTimeout) { ... }
type Kind struct {
	domain *Domain
	name   string
	slug   string
	code   string
	title  string
	status int
}

// New creates an error of this kind.
func (k *Kind) New(opts ...Option) *Error {
	e := &Error{kind: k}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Error implements error so kinds can be used as sentinels.
func (k *Kind) Error() string {
	return k.code
}

// Code returns "<domain>/<kind-slug>".
func (k *Kind) Code() string {
	return k.code
}

// Name returns the PascalCase kind name.
func (k *Kind) Name() string {
	return k.name
}

// Slug returns the kebab-case kind name.
func (k *Kind) Slug() string {
	return k.slug
}

// Status returns the HTTP status for this kind.
func (k *Kind) Status() int {
	return k.status
}

// Title returns the i18n title key.
func (k *Kind) Title() string {
	return k.title
}

// Domain returns the owning domain's name.
func (k *Kind) Domain() string {
	return k.domain.name
}

// TypeURI returns the "type" member used in problem documents.
func (k *Kind) TypeURI() string {
	return k.domain.registry.baseURI + "/" + k.domain.name + "/" + k.slug
}

// kebab converts a PascalCase name to kebab-case: "RateLimited" becomes
// "rate-limited", "HTTPTimeout" becomes "http-timeout".
func kebab(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		isUpper := r >= 'A' && r <= 'Z'
		if isUpper && i > 0 {
			prev := runes[i-1]
			prevLowerOrDigit := (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := prev >= 'A' && prev <= 'Z'
			if prevLowerOrDigit || (prevUpper && nextLower) {
				b.WriteByte('-')
			}
		}
		if isUpper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
