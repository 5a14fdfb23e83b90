package pacscript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/haukened/rr-pac/internal/pac/domain"
)

// MIMEType is the content type platforms expect for auto-config payloads.
const MIMEType = "application/x-ns-proxy-autoconfig"

// pacTemplate is the wire contract with the platform's PAC evaluator. Any
// change here changes routing decisions for every client; keep Evaluate in
// lockstep.
var pacTemplate = template.Must(template.New("pac").Parse(`
      function FindProxyForURL(url, host) {
        function isHostBlocked(array, target) {
          let left = 0;
          let right = array.length - 1;

          while (left <= right) {
            const mid = left + Math.floor((right - left) / 2);

            if (array[mid] === target) {
              return true;
            }

            if (array[mid] < target) {
              left = mid + 1;
            } else {
              right = mid - 1;
            }
          }
          return false;
        }

        // Remove ending dot
        if (host.endsWith('.')) {
          host = host.substring(0, host.length - 1);
        }

        // Make domain second-level.
        let lastDot = host.lastIndexOf('.');
        if (lastDot !== -1) {
          lastDot = host.lastIndexOf('.', lastDot - 1);
          if (lastDot !== -1) {
            host = host.substr(lastDot + 1);
          }
        }

        // Domains, which are blocked.
        let domains = {{.Domains}};

        // Return result
        if (isHostBlocked(domains, host)) {
          return '{{.Directive}}';
        } else {
          return '{{.Direct}}';
        }
      }`))

// Direct is the PAC directive for unproxied traffic.
const Direct = "DIRECT"

// Directive returns the PAC directive routing through endpoint over HTTPS.
func Directive(endpoint string) string {
	return "HTTPS " + endpoint + ";"
}

// Prepare returns a sorted, duplicate-free copy of domains with empty entries
// removed. The embedded matcher relies on this ordering.
func Prepare(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Render produces the self-contained FindProxyForURL text for the blocklist
// and endpoint. It returns ErrEmptyPolicy when there is nothing to match.
func Render(domains []string, endpoint string) (string, error) {
	sorted := Prepare(domains)
	if len(sorted) == 0 {
		return "", domain.ErrEmptyPolicy
	}
	if err := validateEndpoint(endpoint); err != nil {
		return "", err
	}

	var arr bytes.Buffer
	enc := json.NewEncoder(&arr)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sorted); err != nil {
		return "", fmt.Errorf("encode domains: %w", err)
	}

	var buf bytes.Buffer
	err := pacTemplate.Execute(&buf, struct {
		Domains   string
		Directive string
		Direct    string
	}{
		Domains:   strings.TrimSuffix(arr.String(), "\n"),
		Directive: Directive(endpoint),
		Direct:    Direct,
	})
	if err != nil {
		return "", fmt.Errorf("render pac: %w", err)
	}
	return buf.String(), nil
}

// validateEndpoint rejects endpoints that would break out of the quoted
// directive in the generated script.
func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%w: empty proxy endpoint", domain.ErrConfiguration)
	}
	if strings.ContainsAny(endpoint, "'\"\\\r\n;") {
		return fmt.Errorf("%w: invalid proxy endpoint %q", domain.ErrConfiguration, endpoint)
	}
	return nil
}
