package probe

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
)

// parseIwDev parses `iw dev` into one snapshot per netdev interface.
// Supported modes and driver are filled in later from the phy.
func parseIwDev(out string) []hotspot.WirelessInterface {
	var (
		ifaces []hotspot.WirelessInterface
		phy    string
		cur    *hotspot.WirelessInterface
	)
	flush := func() {
		if cur != nil {
			ifaces = append(ifaces, *cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "phy#"):
			flush()
			phy = "phy" + strings.TrimPrefix(line, "phy#")
		case strings.HasPrefix(line, "Interface "):
			flush()
			cur = &hotspot.WirelessInterface{
				Name: strings.TrimSpace(strings.TrimPrefix(line, "Interface ")),
				Phy:  phy,
				Mode: hotspot.ModeUnknown,
			}
		case strings.HasPrefix(line, "Unnamed/non-netdev interface"):
			flush()
		case cur == nil:
		case strings.HasPrefix(line, "addr "):
			cur.MAC = strings.TrimSpace(strings.TrimPrefix(line, "addr "))
		case strings.HasPrefix(line, "type "):
			cur.Mode = parseMode(strings.TrimSpace(strings.TrimPrefix(line, "type ")))
		}
	}
	flush()
	return ifaces
}

// parseMode maps an iw interface type onto a Mode. Types the engine does
// not care about are kept lower-cased.
func parseMode(s string) hotspot.Mode {
	switch s {
	case "managed", "station":
		return hotspot.ModeManaged
	case "AP":
		return hotspot.ModeAP
	case "AP/VLAN":
		return hotspot.ModeAPVLAN
	case "":
		return hotspot.ModeUnknown
	}
	return hotspot.Mode(strings.ToLower(s))
}

// phyInfo is the subset of `iw phy <phy> info` the prober uses.
type phyInfo struct {
	Modes        []hotspot.Mode
	Combinations []hotspot.Combination
}

var (
	limitRe    = regexp.MustCompile(`#\{\s*([^}]*)\}\s*<=\s*(\d+)`)
	totalRe    = regexp.MustCompile(`total\s*<=\s*(\d+)`)
	channelsRe = regexp.MustCompile(`#channels\s*<=\s*(\d+)`)
)

// parsePhyInfo extracts the supported interface modes and the valid
// interface combinations. Sections are delimited by indentation: a
// section ends at the first line indented no deeper than its header.
func parsePhyInfo(out string) phyInfo {
	var (
		info        phyInfo
		section     string
		headerDepth int
		combo       []string
	)
	flushCombo := func() {
		if len(combo) > 0 {
			if c, ok := parseCombination(strings.Join(combo, " ")); ok {
				info.Combinations = append(info.Combinations, c)
			}
			combo = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		depth := indent(raw)

		if section != "" && depth <= headerDepth {
			flushCombo()
			section = ""
		}

		switch {
		case section == "" && line == "Supported interface modes:":
			section, headerDepth = "modes", depth
		case section == "" && strings.HasPrefix(line, "valid interface combinations:"):
			section, headerDepth = "combos", depth
		case section == "modes" && strings.HasPrefix(line, "* "):
			info.Modes = append(info.Modes, parseMode(strings.TrimSpace(line[2:])))
		case section == "combos" && strings.HasPrefix(line, "* "):
			flushCombo()
			combo = append(combo, line[2:])
		case section == "combos":
			combo = append(combo, line)
		}
	}
	flushCombo()
	return info
}

// indent counts leading whitespace, treating a tab as eight columns.
func indent(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case '\t':
			n += 8
		case ' ':
			n++
		default:
			return n
		}
	}
	return n
}

func parseCombination(s string) (hotspot.Combination, bool) {
	var c hotspot.Combination
	for _, m := range limitRe.FindAllStringSubmatch(s, -1) {
		max, _ := strconv.Atoi(m[2])
		var types []hotspot.Mode
		for _, t := range strings.Split(m[1], ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, parseMode(t))
			}
		}
		c.Limits = append(c.Limits, hotspot.ComboLimit{Max: max, Types: types})
	}
	if m := totalRe.FindStringSubmatch(s); m != nil {
		c.Total, _ = strconv.Atoi(m[1])
	}
	if m := channelsRe.FindStringSubmatch(s); m != nil {
		c.Channels, _ = strconv.Atoi(m[1])
	}
	return c, len(c.Limits) > 0
}

// concurrentAPManaged reports whether c lets one managed and one AP (or
// AP/VLAN) interface exist at the same time.
func concurrentAPManaged(c hotspot.Combination) bool {
	if c.Total < 2 {
		return false
	}
	for i, lm := range c.Limits {
		if !hasMode(lm.Types, hotspot.ModeManaged) || lm.Max < 1 {
			continue
		}
		for j, la := range c.Limits {
			if !hasMode(la.Types, hotspot.ModeAP) && !hasMode(la.Types, hotspot.ModeAPVLAN) {
				continue
			}
			if i == j {
				if lm.Max >= 2 {
					return true
				}
			} else if la.Max >= 1 {
				return true
			}
		}
	}
	return false
}

func hasMode(ms []hotspot.Mode, m hotspot.Mode) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}
