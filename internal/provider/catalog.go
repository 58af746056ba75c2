package provider

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CatalogFile — структура YAML-файла с описаниями провайдеров.
type CatalogFile struct {
	Default   Spec            `yaml:"default"`
	Providers map[string]Spec `yaml:"providers"`
}

// Catalog хранит неизменяемые описания запросов. Безопасен для конкурентного чтения.
type Catalog struct {
	base      Spec
	providers map[string]Spec
}

// NewCatalog создаёт каталог только со стандартным описанием.
func NewCatalog() *Catalog {
	return &Catalog{base: DefaultSpec(), providers: map[string]Spec{}}
}

// LoadCatalog читает YAML-файл, подставляет переменные окружения и валидирует описания.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider specs: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog разбирает содержимое YAML-файла.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parse provider specs: %w", err)
	}

	catalog := &Catalog{
		base:      DefaultSpec().Merge(file.Default),
		providers: make(map[string]Spec, len(file.Providers)),
	}
	if err := validateSpec("default", catalog.base); err != nil {
		return nil, err
	}
	for id, override := range file.Providers {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("provider specs: empty provider id")
		}
		resolved := catalog.base.Merge(override)
		if err := validateSpec(id, resolved); err != nil {
			return nil, err
		}
		catalog.providers[id] = resolved
	}
	return catalog, nil
}

// Resolve возвращает итоговое описание для провайдера.
func (c *Catalog) Resolve(providerID string) Spec {
	if c == nil {
		return DefaultSpec()
	}
	if spec, ok := c.providers[providerID]; ok {
		return spec.clone()
	}
	return c.base.clone()
}

// Len возвращает количество провайдеров с собственным описанием.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

var specValidator = validator.New()

func validateSpec(name string, spec Spec) error {
	if err := specValidator.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return fmt.Errorf("provider spec %q invalid: %s", name, strings.Join(fields, ", "))
		}
		return fmt.Errorf("provider spec %q invalid: %w", name, err)
	}
	if spec.Auth.Scheme == AuthHeader && strings.TrimSpace(spec.Auth.Header) == "" {
		return fmt.Errorf("provider spec %q invalid: auth header name is required", name)
	}
	if (spec.Auth.Scheme == AuthBody || spec.Auth.Scheme == AuthQuery) && strings.TrimSpace(spec.Auth.Param) == "" {
		return fmt.Errorf("provider spec %q invalid: auth param is required", name)
	}
	return nil
}
