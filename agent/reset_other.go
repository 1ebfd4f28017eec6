//go:build !linux

package agent

import "errors"

func execSelf() error {
	return errors.New("exec restart is only supported on linux")
}

func rebootBoard() error {
	return errors.New("reboot is only supported on linux")
}
