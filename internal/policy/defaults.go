package policy

import "runtime"

// Session services that keep the desktop alive. Killing any of these logs the
// user out or leaves the session without a shell.
var darwinNames = []string{
	"Finder",
	"Dock",
	"loginwindow",
	"SystemUIServer",
	"WindowServer",
}

var darwinIdentifiers = []string{
	"com.apple.finder",
	"com.apple.dock",
	"com.apple.loginwindow",
	"com.apple.SystemUIServer",
	"com.apple.WindowServer",
}

var darwinPathPrefixes = []string{
	"/System/",
	"/usr/",
	"/bin/",
	"/sbin/",
	"/Library/Apple/",
}

// Linux session equivalents. Most system binaries already sit under /usr/.
var linuxNames = []string{
	"systemd",
	"gnome-shell",
	"plasmashell",
	"Xorg",
	"Xwayland",
	"sshd",
	"dbus-daemon",
}

// DefaultNames returns the built-in protected process names for this OS.
func DefaultNames() []string {
	names := append([]string(nil), darwinNames...)
	if runtime.GOOS == "linux" {
		names = append(names, linuxNames...)
	}
	return names
}

// DefaultIdentifiers returns the built-in protected bundle identifiers.
func DefaultIdentifiers() []string {
	return append([]string(nil), darwinIdentifiers...)
}

// DefaultPathPrefixes returns the built-in system path prefixes.
func DefaultPathPrefixes() []string {
	return append([]string(nil), darwinPathPrefixes...)
}

// DefaultSet builds the protection set with no additions.
func DefaultSet() ProtectionSet {
	return NewProtectionSet(DefaultNames(), DefaultIdentifiers(), DefaultPathPrefixes())
}
