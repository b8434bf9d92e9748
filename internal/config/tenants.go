package config

import (
	"context"
	"fmt"
	"os"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxTenantsFileSize = 1024 * 1024

// TenantsFile is a tenant source backed by a YAML document of the form:
//
//	tenants:
//	  - id: demo
//	    name: Demo Church
//	    enabled: true
//	    namespace: demo
//	    shared_namespaces: [shared]
//	    rate_limit: 60
//	    rag:
//	      top_k: 5
//	      temperature: 0.7
type TenantsFile struct {
	Path string
}

func (f TenantsFile) LoadTenants(ctx context.Context) ([]models.Tenant, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("stat tenants file: %w", err)
	}
	if info.Size() > maxTenantsFileSize {
		return nil, fmt.Errorf("tenants file %s exceeds %d bytes", f.Path, maxTenantsFileSize)
	}

	content, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseTenants(content)
}

// ParseTenants decodes a YAML tenants document.
func ParseTenants(content []byte) ([]models.Tenant, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse tenants: %w", err)
	}

	var doc struct {
		Tenants []models.Tenant `koanf:"tenants"`
	}
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode tenants: %w", err)
	}
	return doc.Tenants, nil
}
