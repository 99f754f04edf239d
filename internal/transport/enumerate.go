package transport

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// preferredVIDs lists USB vendor IDs of the serial adapters the rig's
// controller boards ship with.
var preferredVIDs = map[string]bool{
	"10C4": true, // Silicon Labs CP210x
	"1A86": true, // QinHeng CH340
	"0403": true, // FTDI
	"2341": true, // Arduino
}

// isSPPName reports whether a port name looks like a Bluetooth SPP link:
// "-SPP" suffixed device nodes on macOS, "outgoing" in Windows friendly
// names.
func isSPPName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "spp") || strings.Contains(lower, "outgoing")
}

// orderSerialCandidates sorts enumerated ports into probe order: the
// configured preferred port first, then Bluetooth SPP links (the rig's
// native attachment), then USB devices with a known adapter VID, then
// other USB devices, then everything else. A /dev/cu.* call-up device
// shadows its /dev/tty.* twin so each attachment is probed once.
func orderSerialCandidates(details []*enumerator.PortDetails, preferred string) []Endpoint {
	shadowed := make(map[string]bool)
	for _, d := range details {
		if strings.HasPrefix(d.Name, "/dev/cu.") {
			shadowed["/dev/tty."+strings.TrimPrefix(d.Name, "/dev/cu.")] = true
		}
	}

	var spp, vidMatch, usb, other []Endpoint
	seen := make(map[string]bool)
	add := func(bucket *[]Endpoint, name string) {
		if seen[name] || name == preferred {
			return
		}
		seen[name] = true
		*bucket = append(*bucket, Endpoint{Kind: KindSerial, Target: name})
	}

	for _, d := range details {
		if shadowed[d.Name] {
			continue
		}
		switch {
		case isSPPName(d.Name):
			add(&spp, d.Name)
		case d.IsUSB && preferredVIDs[strings.ToUpper(d.VID)]:
			add(&vidMatch, d.Name)
		case d.IsUSB:
			add(&usb, d.Name)
		default:
			add(&other, d.Name)
		}
	}

	out := make([]Endpoint, 0, len(details)+1)
	if preferred != "" {
		out = append(out, Endpoint{Kind: KindSerial, Target: preferred})
	}
	out = append(out, spp...)
	out = append(out, vidMatch...)
	out = append(out, usb...)
	out = append(out, other...)
	return out
}
