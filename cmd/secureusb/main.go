// SecureUSB
//
// SecureUSB unlocks a LUKS-encrypted USB partition, mounts it and keeps the
// files on it sealed individually:
//   - cryptsetup, mount and umount run through an external process gateway
//     with optional sudo elevation; secrets only ever travel on stdin
//   - PBKDF2-HMAC-SHA256 derives the file key from the volume passphrase and
//     a per-volume salt
//   - every file is an AES-256-CBC envelope stored as .<name>.enc
//   - a Reed-Solomon protected header records the salt, iteration count and
//     a key check value
//   - the volume passphrase can be rotated and the files re-encrypted
package main

import (
	"os"

	"SecureUSB/internal/cli"
	"SecureUSB/internal/secret"
)

// version is the application version reported by --version.
// Format: "vMAJOR.MINOR" (e.g., "v1.00")
const version = "v1.00"

func main() {
	code := cli.Execute(version)
	secret.Purge()
	os.Exit(code)
}
