package banner

import (
	"fmt"
	"io"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/config"
)

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗██████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝██╔══██╗
██████╔╝█████╗  ██║     ███████║ ╚████╔╝ ██║  ██║
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝  ██║  ██║
██║  ██║███████╗███████╗██║  ██║   ██║   ██████╔╝
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝   ╚═════╝
`

// Print writes the banner and a readiness checklist for cfg. source names
// where the config came from.
func Print(w io.Writer, cfg *config.Config, source, version string) {
	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", cfg.Addr())
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", source)

	fmt.Fprintln(w, "\n== Production? =================================================")
	if cfg.Catalog.Path != "" {
		fmt.Fprintf(w, "- Catalog: %s\n", cfg.Catalog.Path)
	} else {
		fmt.Fprintln(w, "- Catalog: MISSING (every relay will be rejected; set catalog.path)")
	}
	if cfg.Server.AdminToken != "" {
		fmt.Fprintln(w, "- Admin token: OK")
	} else {
		fmt.Fprintln(w, "- Admin token: MISSING (/admin routes are open)")
	}
	switch {
	case !cfg.Ingest.Contribute:
		fmt.Fprintln(w, "- Contribution: disabled")
	case cfg.Peer.Endpoint == "":
		fmt.Fprintln(w, "- Contribution: enabled (no peer endpoint, batches are dropped)")
	default:
		fmt.Fprintf(w, "- Contribution: enabled (%s, %s)\n", cfg.Peer.Endpoint, cfg.Peer.Format)
	}
	if cfg.Expiry.Enabled {
		fmt.Fprintf(w, "- Expiry: enabled (cron=%s)\n", cfg.Expiry.Cron)
	} else {
		fmt.Fprintln(w, "- Expiry: disabled (states are kept until removed)")
	}
	if cfg.Server.TLS.CertFile != "" {
		fmt.Fprintln(w, "- TLS: enabled")
	} else {
		fmt.Fprintln(w, "- TLS: disabled")
	}
	fmt.Fprintln(w)
}
