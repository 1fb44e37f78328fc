// Package crypto is the native "crypto" module from SPEC_FULL.md
// §3.2: a hash/KDF surface over golang.org/x/crypto/blake2b and
// golang.org/x/crypto/argon2, registered the same way the teacher's
// internal/stdlib registers internal/cryptoanalysis's AES/key-strength
// functions as native builtins — each wrapper validates its argument
// kinds, calls the real library function, and reports failure through
// the VM's error channel rather than a Go error value.
package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"

	"noct/internal/errors"
	"noct/internal/value"
	"noct/internal/vm"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Register installs crypto.hash/crypto.kdf against v.
func Register(v *vm.VM) {
	v.RegisterNative("crypto.hash", hash)
	v.RegisterNative("crypto.kdf", kdf)
}

func argString(args []value.Value, i int) (string, bool) {
	if i >= len(args) || args[i].Kind != value.String {
		return "", false
	}
	return args[i].Obj.Str, true
}

// hash(data) -> hex-encoded blake2b-256 digest.
func hash(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	data, ok := argString(args, 0)
	if !ok {
		return value.NullValue(), fail(vmi, "crypto.hash expects (data)")
	}
	sum := blake2b.Sum256([]byte(data))
	return value.StringValue(vmi.Heap.Intern(hex.EncodeToString(sum[:]))), true
}

// kdf(password, salt) -> hex-encoded argon2id-derived key.
func kdf(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	password, ok1 := argString(args, 0)
	salt, ok2 := argString(args, 1)
	if !ok1 || !ok2 {
		return value.NullValue(), fail(vmi, "crypto.kdf expects (password, salt)")
	}
	key := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return value.StringValue(vmi.Heap.Intern(hex.EncodeToString(key))), true
}

func fail(vmi *vm.VM, format string, args ...interface{}) bool {
	vmi.Errs.Setf(errors.Runtime, vmi.File, 0, format, args...)
	return false
}
