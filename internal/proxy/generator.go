package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jsverre/stevedore/internal/model"
)

// Generate renders the nginx server block for a published container and
// returns it together with a content hash. The output depends only on the
// record's publication fields, so identical inputs always produce identical
// configs and hashes.
func Generate(rec model.ContainerRecord) (string, string, error) {
	if rec.Published == nil {
		return "", "", fmt.Errorf("container %s has no publication", rec.ID)
	}
	pub := rec.Published
	if pub.Domain == "" {
		return "", "", fmt.Errorf("container %s publication has no domain", rec.ID)
	}
	if pub.HostPort <= 0 || pub.HostPort > 65535 {
		return "", "", fmt.Errorf("container %s publication has invalid host port %d", rec.ID, pub.HostPort)
	}

	config := fmt.Sprintf(`server {
    listen 80;
    listen [::]:80;
    server_name %s;

    location / {
        proxy_pass http://127.0.0.1:%d;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
    }
}
`, pub.Domain, pub.HostPort)

	sum := sha256.Sum256([]byte(config))
	return config, hex.EncodeToString(sum[:]), nil
}

// siteSuffix marks the files in the sites dir that are ours to manage.
const siteSuffix = ".conf"

// siteFileName is the per-container config file name inside the sites dir.
func siteFileName(rec model.ContainerRecord) string {
	return rec.Name + siteSuffix
}
