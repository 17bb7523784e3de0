package directory

import (
	"net/url"
	"strings"
)

// Layout holds the URL templates of a directory, relative to its base URL.
// Templates may use {provider}, {service} and {version}.
type Layout struct {
	Providers  string `yaml:"providers"`
	Provider   string `yaml:"provider"`
	Services   string `yaml:"services"`
	API        string `yaml:"api"`
	ServiceAPI string `yaml:"service_api"`
	List       string `yaml:"list"`
	Metrics    string `yaml:"metrics"`
}

// APIsGuruLayout is the layout of the public APIs.guru v2 directory and its mirrors.
func APIsGuruLayout() Layout {
	return Layout{
		Providers:  "/providers.json",
		Provider:   "/{provider}.json",
		Services:   "/{provider}/services.json",
		API:        "/specs/{provider}/{version}.json",
		ServiceAPI: "/specs/{provider}/{service}/{version}.json",
		List:       "/list.json",
		Metrics:    "/metrics.json",
	}
}

// withDefaults fills empty templates from the APIs.guru layout
func (l Layout) withDefaults() Layout {
	def := APIsGuruLayout()
	if l.Providers == "" {
		l.Providers = def.Providers
	}
	if l.Provider == "" {
		l.Provider = def.Provider
	}
	if l.Services == "" {
		l.Services = def.Services
	}
	if l.API == "" {
		l.API = def.API
	}
	if l.ServiceAPI == "" {
		l.ServiceAPI = def.ServiceAPI
	}
	if l.List == "" {
		l.List = def.List
	}
	if l.Metrics == "" {
		l.Metrics = def.Metrics
	}
	return l
}

func expand(template, provider, service, version string) string {
	return strings.NewReplacer(
		"{provider}", url.PathEscape(provider),
		"{service}", url.PathEscape(service),
		"{version}", url.PathEscape(version),
	).Replace(template)
}
