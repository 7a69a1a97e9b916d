package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf    *core.Config
	db      *sqlx.DB
	out     io.Writer
	usrRepo user.Repository
	admSvc  admission.Service
	regSvc  registration.Service
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-admin] - add (or update) a staff user; the password is prompted")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a migration command (up, down, status, version, redo, ...)")
	fmt.Fprintln(cli.out, "  export -form admission|ssc|class-6 [-session YEAR] [-status STATUS] -out FILE.xlsx - export the applications")
	fmt.Fprintln(cli.out, "  approve -form admission|ssc|class-6 [-session YEAR] -serials RANGES|-file FILE.xlsx - approve by serial")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant every role.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportForm := exportCmd.String("form", "", "admission, ssc or class-6.")
	exportSession := exportCmd.Int("session", 0, "The session year; all sessions when omitted.")
	exportStatus := exportCmd.String("status", "", "Only the applications with this status.")
	exportOut := exportCmd.String("out", "", "The .xlsx file to write.")

	approveCmd := flag.NewFlagSet("approve", flag.ContinueOnError)
	approveForm := approveCmd.String("form", "", "admission, ssc or class-6.")
	approveSession := approveCmd.Int("session", 0, "The session year; the current one when omitted.")
	approveSerials := approveCmd.String("serials", "", "The serials to approve, e.g. \"1-20, 25\".")
	approveFile := approveCmd.String("file", "", "An .xlsx file listing the serials in its first column.")

	for _, fs := range []*flag.FlagSet{addUserCmd, resetPasswordCmd, exportCmd, approveCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordUname, pwd)

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *exportForm == "" || *exportOut == "" {
			exportCmd.Usage()
			return errHelp
		}
		return cli.export(ctx, *exportForm, *exportSession, *exportStatus, *exportOut)

	case "approve":
		if err := approveCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *approveForm == "" || (*approveSerials == "") == (*approveFile == "") {
			approveCmd.Usage()
			return errHelp
		}
		return cli.approve(ctx, *approveForm, *approveSession, *approveSerials, *approveFile)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
