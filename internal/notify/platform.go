package notify

import "fmt"

// capabilities is the probed set of notification channels for the host.
// Probing happens once at dispatcher construction; an empty field means the
// channel is unavailable.
type capabilities struct {
	speak        string // TTS binary
	sound        string // audio player binary
	defaultSound string // alert sound shipped with the OS
	desktop      string // desktop notification binary
	volume       string // volume control binary
}

// darwin alert sound; present on every macOS install.
const darwinSound = "/System/Library/Sounds/Glass.aiff"

// freedesktop alert sound; present on most Linux desktops.
const linuxSound = "/usr/share/sounds/freedesktop/stereo/complete.oga"

// detect probes the platform's notification commands through the runner.
func detect(goos string, r Runner) capabilities {
	var caps capabilities

	switch goos {
	case "darwin":
		caps.speak = firstAvailable(r, "say")
		caps.sound = firstAvailable(r, "afplay")
		caps.defaultSound = darwinSound
		caps.desktop = firstAvailable(r, "osascript")
		caps.volume = caps.desktop
	case "linux":
		caps.speak = firstAvailable(r, "espeak-ng", "espeak", "spd-say")
		caps.sound = firstAvailable(r, "paplay", "aplay")
		caps.defaultSound = linuxSound
		caps.desktop = firstAvailable(r, "notify-send")
		caps.volume = firstAvailable(r, "pactl")
	}

	return caps
}

// firstAvailable returns the first name resolvable on PATH, or "".
func firstAvailable(r Runner, names ...string) string {
	for _, name := range names {
		if _, err := r.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// speakArgs builds the TTS invocation for the probed binary.
func (c capabilities) speakArgs(message string) []string {
	switch c.speak {
	case "say":
		return []string{"say", message}
	case "espeak-ng", "espeak":
		return []string{c.speak, message}
	case "spd-say":
		return []string{"spd-say", "--wait", message}
	}
	return nil
}

// soundArgs builds the alert sound invocation.
func (c capabilities) soundArgs(file string) []string {
	if file == "" {
		file = c.defaultSound
	}
	switch c.sound {
	case "afplay":
		return []string{"afplay", file}
	case "paplay":
		return []string{"paplay", file}
	case "aplay":
		return []string{"aplay", "-q", file}
	}
	return nil
}

// desktopArgs builds the desktop notification invocation.
func (c capabilities) desktopArgs(title, body string) []string {
	switch c.desktop {
	case "osascript":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return []string{"osascript", "-e", script}
	case "notify-send":
		return []string{"notify-send", "--urgency=normal", title, body}
	}
	return nil
}

// volumeArgs builds the invocation that pushes output volume up before an
// audible reminder.
func (c capabilities) volumeArgs(percent int) []string {
	switch c.volume {
	case "osascript":
		return []string{"osascript", "-e", fmt.Sprintf("set volume output volume %d", percent)}
	case "pactl":
		return []string{"pactl", "set-sink-volume", "@DEFAULT_SINK@", fmt.Sprintf("%d%%", percent)}
	}
	return nil
}
