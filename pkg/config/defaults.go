package config

import (
	"time"

	"github.com/ternarybob/vloop/pkg/quality"
)

// Default project settings
const (
	DefaultStateDir     = ".vloop"
	DefaultArtifactsDir = ".vloop/artifacts"
	DefaultStageTimeout = 5 * time.Minute
)

// Default browser settings
const (
	DefaultWidth  = 1280
	DefaultHeight = 800
)

// Default watch settings
const (
	DefaultDebounce         = 500 * time.Millisecond
	DefaultRateLimitPerHour = 60
)

// Default returns the default configuration.
func Default() *Project {
	return &Project{
		Project: ProjectSection{
			RootDir:      ".",
			StateDir:     DefaultStateDir,
			ArtifactsDir: DefaultArtifactsDir,
			StageTimeout: DefaultStageTimeout.String(),
		},
		Quality: QualitySection{
			Timeout: quality.DefaultTimeout.String(),
		},
		Browser: BrowserSection{
			Headless: true,
			Width:    DefaultWidth,
			Height:   DefaultHeight,
		},
		ConsoleNetwork: ConsoleNetworkSection{
			APIPrefix: "/api/",
		},
		Retry: RetrySection{
			MaxAttempts:     3,
			InitialInterval: "200ms",
			MaxInterval:     "2s",
			Multiplier:      2,
		},
		Watch: WatchSection{
			Debounce:         DefaultDebounce.String(),
			Extensions:       DefaultWatchExtensions(),
			RateLimitPerHour: DefaultRateLimitPerHour,
		},
	}
}

// DefaultWatchExtensions returns the source extensions that trigger a rerun.
func DefaultWatchExtensions() []string {
	return []string{
		".go",
		".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs",
		".vue", ".svelte", ".astro",
		".css", ".scss", ".html",
		".py", ".rb", ".php",
	}
}

// Template is written by "vloop init".
const Template = `# vloop project configuration

[project]
name = "my-app"
base_url = "http://localhost:5173"
stage_timeout = "5m"

[quality]
timeout = "10m"

[[quality.commands]]
name = "lint"
script = "npm run lint"

[[quality.commands]]
name = "types"
script = "npx tsc --noEmit"

[browser]
headless = true
width = 1280
height = 800

[[visual.pages]]
name = "home"
path = "/"
wait_for = "main"

[[interaction.steps]]
action = "navigate"
path = "/signup"

[[interaction.steps]]
action = "fill"
selector = "#email"
value = ""

[[interaction.steps]]
action = "click"
selector = "button[type=submit]"

[[interaction.steps]]
action = "expect_text"
selector = ".error"
text = "Email is required"

[console_network]
api_prefix = "/api/"

[watch]
debounce = "500ms"
rate_limit_per_hour = 60
`
