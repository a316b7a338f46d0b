package visa

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceKind identifies the transport a resource string selects.
type ResourceKind string

const (
	KindUSB    ResourceKind = "usb"
	KindSerial ResourceKind = "asrl"
	KindSim    ResourceKind = "sim"
)

// Resource is a decoded VISA-style resource string.
type Resource struct {
	Kind      ResourceKind
	Board     int
	VendorID  uint16
	ProductID uint16
	Serial    string // USB serial number, empty matches any
	Device    string // ASRL device path
}

// String renders the resource back in VISA syntax.
func (r Resource) String() string {
	switch r.Kind {
	case KindUSB:
		s := fmt.Sprintf("USB%d::0x%04X::0x%04X", r.Board, r.VendorID, r.ProductID)
		if r.Serial != "" {
			s += "::" + r.Serial
		}
		return s + "::INSTR"
	case KindSerial:
		return "ASRL" + r.Device + "::INSTR"
	case KindSim:
		return "SIM::INSTR"
	}
	return string(r.Kind)
}

// ParseResource decodes the subset of VISA resource strings this tool can open:
//
//	USB0::0x1313::0x80C8::M00811426::INSTR
//	ASRL/dev/ttyUSB0::INSTR
//	SIM::INSTR
func ParseResource(s string) (Resource, error) {
	parts := strings.Split(strings.TrimSpace(s), "::")
	if len(parts) < 2 || !strings.EqualFold(parts[len(parts)-1], "INSTR") {
		return Resource{}, fmt.Errorf("visa: resource %q must end in ::INSTR", s)
	}
	parts = parts[:len(parts)-1]
	head := strings.ToUpper(parts[0])

	switch {
	case head == "SIM":
		if len(parts) != 1 {
			return Resource{}, fmt.Errorf("visa: malformed simulator resource %q", s)
		}
		return Resource{Kind: KindSim}, nil

	case strings.HasPrefix(head, "ASRL"):
		dev := parts[0][len("ASRL"):]
		if dev == "" || len(parts) != 1 {
			return Resource{}, fmt.Errorf("visa: malformed serial resource %q", s)
		}
		return Resource{Kind: KindSerial, Device: dev}, nil

	case strings.HasPrefix(head, "USB"):
		if len(parts) != 3 && len(parts) != 4 {
			return Resource{}, fmt.Errorf("visa: malformed USB resource %q", s)
		}
		board := 0
		if b := head[len("USB"):]; b != "" {
			n, err := strconv.Atoi(b)
			if err != nil {
				return Resource{}, fmt.Errorf("visa: bad USB board number in %q: %w", s, err)
			}
			board = n
		}
		vid, err := parseID(parts[1])
		if err != nil {
			return Resource{}, fmt.Errorf("visa: bad vendor ID in %q: %w", s, err)
		}
		pid, err := parseID(parts[2])
		if err != nil {
			return Resource{}, fmt.Errorf("visa: bad product ID in %q: %w", s, err)
		}
		res := Resource{Kind: KindUSB, Board: board, VendorID: vid, ProductID: pid}
		if len(parts) == 4 {
			res.Serial = parts[3]
		}
		return res, nil
	}

	return Resource{}, fmt.Errorf("visa: unsupported resource %q", s)
}

func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
