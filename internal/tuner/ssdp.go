package tuner

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SSDP answers M-SEARCH discovery requests on UDP :1900 so that
// tuner-appliance clients on the same network can find each listener
// without being told its address up front.
type SSDP struct {
	BaseURL      string
	DeviceID     string
	FriendlyName string
	DeviceXMLURL string
}

// Run listens for M-SEARCH requests until ctx is canceled.
func (s *SSDP) Run(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", ":1900")
	if err != nil {
		return fmt.Errorf("ssdp: listen udp: %w", err)
	}
	defer pc.Close()

	log.Info().Str("deviceID", s.DeviceID).Msg("ssdp: listening on :1900")

	if s.DeviceXMLURL == "" && s.BaseURL != "" {
		s.DeviceXMLURL = joinDeviceXMLURL(s.BaseURL)
	}

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pc.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			log.Warn().Err(err).Msg("ssdp: read error")
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		msg := string(buf[:n])
		if strings.Contains(msg, "M-SEARCH") && wantsOurDevice(msg) {
			s.sendSearchResponse(pc, udpAddr)
		}
	}
}

func wantsOurDevice(msg string) bool {
	return strings.Contains(msg, "ssdp:all") ||
		strings.Contains(msg, "urn:schemas-upnp-org:device:MediaServer") ||
		strings.Contains(msg, "urn:schemas-upnp-org:device:Basic:1")
}

func (s *SSDP) sendSearchResponse(pc net.PacketConn, addr *net.UDPAddr) {
	if s.DeviceXMLURL == "" {
		return
	}
	if _, err := pc.WriteTo([]byte(s.searchResponse()), addr); err != nil {
		log.Warn().Err(err).Str("peer", addr.String()).Msg("ssdp: write response failed")
		return
	}
	log.Debug().Str("peer", addr.String()).Msg("ssdp: responded to M-SEARCH")
}

func (s *SSDP) searchResponse() string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=300\r\n"+
			"EXT:\r\n"+
			"LOCATION: %s\r\n"+
			"SERVER: TunerBridge/1.0\r\n"+
			"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n"+
			"USN: uuid:%s::urn:schemas-upnp-org:device:MediaServer:1\r\n"+
			"\r\n",
		s.DeviceXMLURL, s.DeviceID,
	)
}

// StartSSDP launches an SSDP responder for one listener's baseURL/deviceID
// as a background goroutine, returning immediately. It is a no-op (and
// logs why) if baseURL can't produce a reachable device.xml URL.
func StartSSDP(ctx context.Context, friendlyName, baseURL, deviceID string) {
	deviceXMLURL := joinDeviceXMLURL(baseURL)
	if deviceXMLURL == "" {
		log.Warn().Str("baseURL", baseURL).Msg("ssdp: disabled, baseURL is empty or invalid")
		return
	}
	s := &SSDP{
		BaseURL:      baseURL,
		DeviceID:     deviceID,
		FriendlyName: friendlyName,
		DeviceXMLURL: deviceXMLURL,
	}
	go func() {
		if err := s.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ssdp: stopped")
		}
	}()
}

func joinDeviceXMLURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/device.xml"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
