package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	exportsvc "github.com/trezcool/bhorti/services/export"
)

const cliReviewer = "admin-cli"

// approve approves the applications of `form` by serial, either given as ranges or listed in an .xlsx file.
func (cli *commandLine) approve(ctx context.Context, form string, session int, serials, file string) error {
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return errors.Wrap(err, "opening serials file")
		}
		serials, err = exportsvc.ReadSerials(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	var n int
	if form == settings.FormAdmission {
		adms, err := cli.admSvc.ApproveSerials(ctx, session, serials, cliReviewer)
		if err != nil {
			return err
		}
		n = len(adms)
	} else {
		kind, err := registration.ParseKind(form)
		if err != nil {
			return err
		}
		su := registration.StatusUpdate{SessionYear: session, Serials: serials, Status: registration.StatusApproved}
		regs, err := cli.regSvc.SetStatus(ctx, kind, su, cliReviewer)
		if err != nil {
			return err
		}
		n = len(regs)
	}

	fmt.Fprintf(cli.out, "%d %s application(s) approved\n", n, form)
	return nil
}
