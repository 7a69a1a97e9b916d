package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	exportsvc "github.com/trezcool/bhorti/services/export"
)

var bySerial = []core.DBOrdering{{Field: "serial", Ascending: true}}

// export writes the applications of `form` to an .xlsx file.
func (cli *commandLine) export(ctx context.Context, form string, session int, status, out string) (err error) {
	var statuses []string
	if status != "" {
		statuses = []string{status}
	}

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "creating export file")
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = errors.Wrap(cErr, "closing export file")
		}
	}()

	var n int
	if form == settings.FormAdmission {
		filter := &admission.QueryFilter{SessionYear: session, Statuses: statuses}
		if err = filter.Clean(); err != nil {
			return err
		}
		adms, err := cli.admSvc.Query(ctx, filter, bySerial)
		if err != nil {
			return errors.Wrap(err, "querying admissions")
		}
		if err = exportsvc.WriteAdmissions(f, adms); err != nil {
			return err
		}
		n = len(adms)
	} else {
		kind, err := registration.ParseKind(form)
		if err != nil {
			return err
		}
		filter := &registration.QueryFilter{Kind: kind, SessionYear: session, Statuses: statuses}
		if err = filter.Clean(); err != nil {
			return err
		}
		regs, err := cli.regSvc.Query(ctx, filter, bySerial)
		if err != nil {
			return errors.Wrap(err, "querying registrations")
		}
		if err = exportsvc.WriteRegistrations(f, kind, regs); err != nil {
			return err
		}
		n = len(regs)
	}

	fmt.Fprintf(cli.out, "%d %s application(s) exported to %s\n", n, form, out)
	return nil
}
