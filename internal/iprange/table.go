// Package iprange implements the sorted-array binary-search geo-routing
// table used by bypass_cn. Grounded on
// original_source/client-gui-go/core/ech-workers.go's isChinaIP,
// loadChinaIPList, loadChinaIPV6List, and compareIPv6, and on
// core/core.go's loadIPListForRouter in the teacher repo.
package iprange

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

type v4Range struct {
	start uint32
	end   uint32
}

type v6Range struct {
	start [16]byte
	end   [16]byte
}

// Table is a pair of sorted, binary-searchable range arrays, one for IPv4
// and one for IPv6. The zero Table treats every address as "not a member".
type Table struct {
	v4 []v4Range
	v6 []v6Range
}

// Len4 and Len6 report the number of loaded IPv4 and IPv6 ranges; tests use
// them to check how many ranges were loaded without reaching into
// package-private fields.
func (t *Table) Len4() int { return len(t.v4) }
func (t *Table) Len6() int { return len(t.v6) }

// Contains reports whether ip falls within any loaded range. A nil/invalid
// ip never matches.
func (t *Table) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		return t.containsV4(ipToUint32(v4))
	}
	v6 := ip.To16()
	if v6 == nil {
		return false
	}
	var arr [16]byte
	copy(arr[:], v6)
	return t.containsV6(arr)
}

func (t *Table) containsV4(val uint32) bool {
	ranges := t.v4
	lo, hi := 0, len(ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		r := ranges[mid]
		switch {
		case val < r.start:
			hi = mid
		case val > r.end:
			lo = mid + 1
		default:
			return true
		}
	}
	return false
}

func (t *Table) containsV6(val [16]byte) bool {
	ranges := t.v6
	lo, hi := 0, len(ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		r := ranges[mid]
		if compare16(val, r.start) < 0 {
			hi = mid
			continue
		}
		if compare16(val, r.end) > 0 {
			lo = mid + 1
			continue
		}
		return true
	}
	return false
}

func compare16(a, b [16]byte) int {
	for i := 0; i < 16; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

// LoadV4FromReader parses IPv4 "start end" pairs, one per line, '#' comments
// and blank lines ignored, and returns a Table whose IPv4 array is sorted by
// start. LoadV6FromReader does the same for IPv6 ranges.
func LoadV4FromReader(r io.Reader) (*Table, error) {
	ranges, err := parseLines(r, func(startIP, endIP net.IP) (v4Range, bool) {
		s4, e4 := startIP.To4(), endIP.To4()
		if s4 == nil || e4 == nil {
			return v4Range{}, false
		}
		start, end := ipToUint32(s4), ipToUint32(e4)
		if start == 0 || end == 0 || start > end {
			return v4Range{}, false
		}
		return v4Range{start: start, end: end}, true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	return &Table{v4: ranges}, nil
}

func LoadV6FromReader(r io.Reader) (*Table, error) {
	ranges, err := parseLines(r, func(startIP, endIP net.IP) (v6Range, bool) {
		s16, e16 := startIP.To16(), endIP.To16()
		if s16 == nil || e16 == nil {
			return v6Range{}, false
		}
		var start, end [16]byte
		copy(start[:], s16)
		copy(end[:], e16)
		if compare16(start, end) > 0 {
			return v6Range{}, false
		}
		return v6Range{start: start, end: end}, true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ranges, func(i, j int) bool { return compare16(ranges[i].start, ranges[j].start) < 0 })
	return &Table{v6: ranges}, nil
}

func parseLines[T any](r io.Reader, convert func(startIP, endIP net.IP) (T, bool)) ([]T, error) {
	var out []T
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		startIP := net.ParseIP(parts[0])
		endIP := net.ParseIP(parts[1])
		if startIP == nil || endIP == nil {
			continue
		}
		if v, ok := convert(startIP, endIP); ok {
			out = append(out, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan range file: %w", err)
	}
	return out, nil
}

// Merge combines a v4 and a v6 table (either may be nil) into one Table.
func Merge(v4, v6 *Table) *Table {
	t := &Table{}
	if v4 != nil {
		t.v4 = v4.v4
	}
	if v6 != nil {
		t.v6 = v6.v6
	}
	return t
}

// LoadOrDownload loads path, downloading from url and persisting to path
// first if the file is missing or empty. ipv6 download failures are
// non-fatal per the spec; they return a nil table and nil error.
func LoadOrDownload(path, url string, isV6 bool) (*Table, error) {
	needDownload := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		needDownload = true
	case err == nil && info.Size() == 0:
		needDownload = true
	case err != nil:
		needDownload = true
	}

	if needDownload {
		if dlErr := download(url, path); dlErr != nil {
			if isV6 {
				return nil, nil
			}
			return nil, fmt.Errorf("download %s: %w", url, dlErr)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if isV6 {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if isV6 {
		return LoadV6FromReader(f)
	}
	return LoadV4FromReader(f)
}

func download(url, path string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
