package main

import (
	"github.com/caregate/caregate/guard"
	"github.com/caregate/caregate/patientdb"
	"github.com/caregate/caregate/tools"
	"github.com/caregate/caregate/tools/builtin"
)

// buildRegistry builds the medical assistant's tool set over a seeded
// in-memory patient database. When redactor is non-nil every tool's output
// passes through PII redaction before the model sees it.
func buildRegistry(redactor *guard.Redactor) (*tools.Registry, *patientdb.Store, *builtin.Outbox) {
	store := patientdb.NewStore()
	outbox := builtin.NewOutbox()

	r := tools.NewRegistry()
	r.Register(builtin.NewPatientSearchTool(store))
	r.Register(builtin.NewSendEmailTool(outbox))
	r.Register(builtin.NewDeleteRecordTool(store))
	r.Register(builtin.NewLiteratureSearchTool())

	if redactor != nil {
		r = tools.WrapAll(r, redactor)
	}
	return r, store, outbox
}
