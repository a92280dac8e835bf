package access

import "github.com/careloop/clinic-platform/internal/identity"

// permission is one cell of the role-permission matrix.
type permission struct {
	verbs     map[Verb]bool
	ownScoped bool // doctor writes additionally scoped by doctor_id
}

func verbs(vs ...Verb) map[Verb]bool {
	m := make(map[Verb]bool, len(vs))
	for _, v := range vs {
		m[v] = true
	}
	return m
}

func crud() map[Verb]bool {
	return verbs(VerbCreate, VerbRead, VerbUpdate, VerbDelete)
}

// matrix is the role-permission table. New roles are added by extending this
// table, not by sprinkling role comparisons through handlers. head_nurse
// shares the nurse row.
var matrix = map[identity.Role]map[Resource]permission{
	identity.RoleClinic: {
		ResourcePatients:      {verbs: crud()},
		ResourceAppointments:  {verbs: crud()},
		ResourcePrescriptions: {verbs: verbs(VerbRead)},
		ResourceInventory:     {verbs: verbs(VerbRead)},
		ResourcePosts:         {verbs: crud()},
		ResourceStaff:         {verbs: crud()},
		ResourceInvoices:      {verbs: crud()},
	},
	identity.RoleDoctor: {
		ResourcePatients:      {verbs: verbs(VerbRead, VerbUpdate)},
		ResourceAppointments:  {verbs: crud(), ownScoped: true},
		ResourcePrescriptions: {verbs: crud(), ownScoped: true},
		ResourceInventory:     {verbs: verbs(VerbRead)},
		ResourcePosts:         {verbs: verbs(VerbCreate, VerbRead)},
		ResourceInvoices:      {verbs: verbs(VerbRead)},
	},
	identity.RoleNurse: {
		ResourcePatients:      {verbs: verbs(VerbRead, VerbUpdate)},
		ResourceAppointments:  {verbs: verbs(VerbRead)},
		ResourcePrescriptions: {verbs: verbs(VerbRead)},
		ResourcePosts:         {verbs: verbs(VerbCreate, VerbRead)},
	},
	identity.RolePharmacist: {
		ResourcePatients:      {verbs: verbs(VerbRead)},
		ResourceAppointments:  {verbs: verbs(VerbRead)},
		ResourcePrescriptions: {verbs: verbs(VerbRead, VerbUpdate)},
		ResourceInventory:     {verbs: crud()},
	},
}

// lookup resolves the matrix cell for a role and resource.
func lookup(role identity.Role, resource Resource) (permission, bool) {
	if role == identity.RoleHeadNurse {
		role = identity.RoleNurse
	}
	row, ok := matrix[role]
	if !ok {
		return permission{}, false
	}
	cell, ok := row[resource]
	return cell, ok
}
