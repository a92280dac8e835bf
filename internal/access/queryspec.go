package access

import "errors"

// Resource classes subject to the permission matrix.
type Resource string

const (
	ResourcePatients      Resource = "patients"
	ResourceAppointments  Resource = "appointments"
	ResourcePrescriptions Resource = "prescriptions"
	ResourceInventory     Resource = "inventory"
	ResourcePosts         Resource = "posts"
	ResourceStaff         Resource = "staff"
	ResourceInvoices      Resource = "invoices"
)

// Verb is a CRUD operation.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbRead   Verb = "read"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// ErrUnscopedQuery is returned when a tenant-bound query reaches dispatch
// without its clinic predicate. Repositories treat it as a precondition, not
// a recoverable error.
var ErrUnscopedQuery = errors.New("access: tenant-bound query without clinic predicate")

// QuerySpec is the typed predicate container handed to repositories. The
// clinic slot is unexported: only the Guard in this package can fill it, which
// makes "forgot the tenant filter" unrepresentable in handler code.
type QuerySpec struct {
	resource Resource
	clinicID string
	ownerID  string // doctor-own scoping, ANDed with the clinic predicate
}

// NewQuerySpec starts an unscoped spec for a resource. It cannot dispatch
// until a Grant scopes it.
func NewQuerySpec(resource Resource) *QuerySpec {
	return &QuerySpec{resource: resource}
}

// Resource returns the resource class the spec targets.
func (q *QuerySpec) Resource() Resource { return q.resource }

// ClinicID returns the injected clinic predicate.
func (q *QuerySpec) ClinicID() string { return q.clinicID }

// OwnerID returns the doctor-own predicate, if any.
func (q *QuerySpec) OwnerID() (string, bool) { return q.ownerID, q.ownerID != "" }

// RequireScope is the dispatch precondition every repository checks first.
func (q *QuerySpec) RequireScope() error {
	if q.clinicID == "" {
		return ErrUnscopedQuery
	}
	return nil
}
