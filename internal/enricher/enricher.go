package enricher

import (
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// Profile describes the client behind a session
type Profile struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
}

type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	// GeoIP is optional
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, skipping location lookup")
			geoIP = nil
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// Profile derives a client profile from the User-Agent header and address
func (e *Enricher) Profile(userAgentString, clientIP string) Profile {
	var p Profile

	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		p.Browser, p.BrowserVersion = ua.Browser()
		p.OS = ua.OS()
		p.DeviceType = getDeviceType(ua)
	}

	if e != nil && e.geoIP != nil && clientIP != "" {
		if ip := net.ParseIP(stripPort(clientIP)); ip != nil {
			record, err := e.geoIP.City(ip)
			if err == nil {
				p.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					p.City = name
				}
			}
		}
	}

	return p
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

// stripPort accepts both "ip" and "ip:port" forms, as RemoteAddr carries a port
func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSpace(strings.Split(addr, ",")[0])
}

func (e *Enricher) Close() {
	if e != nil && e.geoIP != nil {
		e.geoIP.Close()
	}
}
