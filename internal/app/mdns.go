package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_contacts._tcp"
	mdnsDomain      = "local."
	mdnsLabelLimit  = 63
)

// startMDNS advertises the ops HTTP surface so field tools can find the server
// on the local network without configuration.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "contact-server"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Contact Server (%s)", hostname))

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, mdnsTXT(a.cfg.MQTTTopic, port, hostname), nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func mdnsTXT(topic string, port int, hostname string) []string {
	hostFQDN := sanitizeMDNSHost(hostname)
	if !strings.Contains(hostFQDN, ".") {
		hostFQDN += ".local"
	}

	return []string{
		fmt.Sprintf("http_port=%d", port),
		fmt.Sprintf("mqtt_topic=%s", topic),
		"proto=v1",
		fmt.Sprintf("host=%s", hostFQDN),
	}
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	replacer := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		cleaned = "Contact Server"
	}
	return truncateString(cleaned, mdnsLabelLimit)
}

func sanitizeMDNSHost(name string) string {
	cleaned := strings.TrimSpace(strings.ToLower(name))
	replacer := strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		cleaned = "contact-server"
	}
	return truncateString(cleaned, mdnsLabelLimit)
}
