//go:build focusdebug

package assertx

func never(cond bool, msg string) {
	if cond {
		panic("assertx: " + msg)
	}
}
