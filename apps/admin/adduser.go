package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/user"
)

// addUser updates or creates a staff user.User; `isAdmin` grants every role.
func (cli *commandLine) addUser(ctx context.Context, uname, email, pwd string, isAdmin bool) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname, email}})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		now := user.NowFunc().UTC()
		usr = user.User{
			Name:      uname,
			Username:  uname,
			Email:     email,
			CreatedAt: now,
		}
	}
	usr.UpdatedAt = user.NowFunc().UTC()
	if isAdmin {
		usr.Roles = user.AllRoles
	} else if len(usr.Roles) == 0 {
		usr.Roles = user.StaffRoles
	}
	usr.SetActive(true)
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %q saved\n", uname)
	return nil
}
