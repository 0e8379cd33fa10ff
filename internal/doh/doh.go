// Package doh builds and parses wire-format DNS queries carried over HTTPS
// (RFC 8484), specialized to HTTPS (type 65) records for ECH ConfigList
// discovery. Grounded on
// original_source/client-gui-go/core/ech-workers.go's buildDNSQuery,
// parseDNSResponse, parseHTTPSRecord, and queryDoH, and on
// soha0219-x/ech-workers.go's equivalents.
package doh

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TypeHTTPS is the DNS RR type for SVCB-family HTTPS records.
const TypeHTTPS = 65

// echSvcParamKey is the SvcParamKey that carries the ECH ConfigList inside
// an HTTPS record's RDATA.
const echSvcParamKey = 5

// BuildQuery builds a minimal single-question DNS query for QTYPE=65
// (HTTPS), QCLASS=IN, RD=1, ID=1 — the exact header the teacher's
// buildDNSQuery emits.
func BuildQuery(domain string) []byte {
	query := make([]byte, 0, 512)
	// ID=1, flags RD=1, QDCOUNT=1, ANCOUNT=NSCOUNT=ARCOUNT=0
	query = append(query, 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			continue
		}
		query = append(query, byte(len(label)))
		query = append(query, []byte(label)...)
	}
	query = append(query, 0x00)                      // root label
	query = append(query, byte(TypeHTTPS>>8), byte(TypeHTTPS)) // QTYPE
	query = append(query, 0x00, 0x01)                 // QCLASS IN
	return query
}

// skipName advances past a (possibly compressed) DNS name starting at
// offset and returns the new offset.
func skipName(msg []byte, offset int) (int, error) {
	for offset < len(msg) {
		b := msg[offset]
		if b&0xC0 == 0xC0 {
			return offset + 2, nil
		}
		if b == 0 {
			return offset + 1, nil
		}
		offset += int(b) + 1
	}
	return 0, errors.New("truncated name")
}

// ParseHTTPSAnswer walks a DNS response looking for an answer of TYPE=65
// and returns the base64-standard-encoded ECH ConfigList from its first
// SvcParamKey=5 parameter. Name compression pointers in both the question
// and answer sections are honored.
func ParseHTTPSAnswer(response []byte) (string, error) {
	if len(response) < 12 {
		return "", errors.New("dns response too short")
	}
	ancount := binary.BigEndian.Uint16(response[6:8])
	if ancount == 0 {
		return "", errors.New("no answer records")
	}

	offset, err := skipName(response, 12)
	if err != nil {
		return "", err
	}
	offset += 4 // QTYPE + QCLASS

	for i := 0; i < int(ancount); i++ {
		if offset >= len(response) {
			break
		}
		offset, err = skipName(response, offset)
		if err != nil {
			break
		}
		if offset+10 > len(response) {
			break
		}
		rrType := binary.BigEndian.Uint16(response[offset : offset+2])
		offset += 8 // TYPE(2) + CLASS(2) + TTL(4)
		dataLen := binary.BigEndian.Uint16(response[offset : offset+2])
		offset += 2
		if offset+int(dataLen) > len(response) {
			break
		}
		data := response[offset : offset+int(dataLen)]
		offset += int(dataLen)

		if rrType == TypeHTTPS {
			if ech := parseHTTPSRecordData(data); ech != "" {
				return ech, nil
			}
		}
	}
	return "", errors.New("no HTTPS record with ech param found")
}

// parseHTTPSRecordData walks SvcPriority(2) | TargetName | (Key(2) Len(2)
// Value)* and returns the base64-standard-encoded value of the first
// SvcParamKey=5 (ech) parameter, or "" if absent.
func parseHTTPSRecordData(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	offset := 2 // SvcPriority
	nameEnd, err := skipName(data, offset)
	if err != nil {
		return ""
	}
	offset = nameEnd

	for offset+4 <= len(data) {
		key := binary.BigEndian.Uint16(data[offset : offset+2])
		length := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		if offset+int(length) > len(data) {
			break
		}
		value := data[offset : offset+int(length)]
		offset += int(length)
		if key == echSvcParamKey {
			return base64.StdEncoding.EncodeToString(value)
		}
	}
	return ""
}

// Client issues DoH GET requests for HTTPS records and returns the decoded
// ECH ConfigList.
type Client struct {
	HTTPClient *http.Client
}

// NewClient returns a Client with a 10s-timeout http.Client, matching the
// spec's DoH timeout.
func NewClient() *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// QueryECHConfigList fetches dohURL?dns=<query>, parses the HTTPS answer,
// and returns the raw decoded ECH ConfigList bytes.
func (c *Client) QueryECHConfigList(dohURL, domain string) ([]byte, error) {
	u, err := url.Parse(dohURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DoH URL %q: %w", dohURL, err)
	}
	query := BuildQuery(domain)
	q := u.Query()
	q.Set("dns", base64.RawURLEncoding.EncodeToString(query))
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh server returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read doh response: %w", err)
	}

	echBase64, err := ParseHTTPSAnswer(body)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(echBase64)
}
