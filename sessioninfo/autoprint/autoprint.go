// Package autoprint is imported for the side effect of logging the session
// info when a command starts.
package autoprint

import (
	"log"

	"github.com/massonix/sc-cold-shock-artifacts/sessioninfo"
)

func init() {
	log.Println(sessioninfo.Get())
}
