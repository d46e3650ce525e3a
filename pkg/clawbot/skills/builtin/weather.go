package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

const defaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

var (
	reWeatherIn   = regexp.MustCompile(`\b(?:weather|forecast|temperature)\b.*?\b(?:in|for|at)\s+([a-z][a-z .'-]*?)\s*(?:today|now|tomorrow|right now)?\??$`)
	reCityWeather = regexp.MustCompile(`^(?:how(?:'s| is) the |what(?:'s| is) the )?([a-z][a-z .'-]*?)\s+(?:weather|forecast)\??$`)
)

// cityStopwords are words the city captures must not be.
var cityStopwords = map[string]bool{
	"the": true, "today": true, "current": true, "todays": true, "today's": true, "local": true,
	"my": true, "what": true, "whats": true, "what's": true, "how": true, "hows": true, "how's": true,
	"show": true, "check": true, "is": true, "will": true,
}

// Weather reports current conditions from OpenWeather.
type Weather struct {
	skills.Base
	deps     *Deps
	keywords *regexp.Regexp
}

// NewWeather creates the weather skill.
func NewWeather(desc skills.Descriptor, deps *Deps) *Weather {
	return &Weather{Base: skills.Base{Desc: desc}, deps: deps, keywords: keywordRegexp(desc.Keywords)}
}

// Detect labels the intent with the requested city, empty for the default.
func (w *Weather) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	if !hasWord(w.keywords, msg.Normalized) {
		return skills.Intent{}, false
	}
	return intent(w.Slug(), cityOf(msg.Normalized)), true
}

func (w *Weather) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	return intent(w.Slug(), label), true
}

func cityOf(text string) string {
	for _, re := range []*regexp.Regexp{reWeatherIn, reCityWeather} {
		if m := re.FindStringSubmatch(text); m != nil {
			fields := strings.Fields(m[1])
			if len(fields) > 0 && !cityStopwords[fields[0]] {
				return strings.Join(fields, " ")
			}
		}
	}
	return ""
}

type weatherResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Message string `json:"message"`
}

func (w *Weather) Handle(ctx context.Context, in skills.Intent, _ skills.Message) (string, error) {
	cfg := w.deps.Weather
	if cfg.APIKey == "" {
		return "🌤️ Weather is not configured. Set OPENWEATHER_API_KEY to enable it.", nil
	}
	city := in.Label
	if city == "" {
		city = cfg.DefaultCity
	}
	if city == "" {
		return "🌤️ Which city? Try \"weather in Lisbon\".", nil
	}
	q := city
	if cfg.DefaultCountry != "" && !strings.Contains(city, ",") && in.Label == "" {
		q += "," + cfg.DefaultCountry
	}

	data, reply, err := w.deps.currentWeather(ctx, q)
	if err != nil || reply != "" {
		return reply, err
	}
	return formatWeather(*data), nil
}

// currentWeather fetches conditions for q ("city" or "city,country"). A
// non-empty reply is a user-facing failure and data is nil.
func (d *Deps) currentWeather(ctx context.Context, q string) (*weatherResponse, string, error) {
	cfg := d.Weather
	base := cfg.BaseURL
	if base == "" {
		base = defaultWeatherURL
	}
	params := url.Values{"q": {q}, "appid": {cfg.APIKey}, "units": {"metric"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("weather request: %w", err)
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		d.Logger.Warn("weather request failed", "city", q, "error", err)
		return nil, "❌ Couldn't reach the weather service. Please try again later.", nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read weather response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		city, _, _ := strings.Cut(q, ",")
		return nil, fmt.Sprintf("❌ City '%s' not found.", city), nil
	}
	if resp.StatusCode != http.StatusOK {
		d.Logger.Warn("weather service error", "status", resp.StatusCode, "body", string(body))
		return nil, "❌ The weather service returned an error. Please try again later.", nil
	}

	var data weatherResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, "", fmt.Errorf("decode weather response: %w", err)
	}
	return &data, "", nil
}

func formatWeather(d weatherResponse) string {
	condition, desc := "", ""
	if len(d.Weather) > 0 {
		condition, desc = d.Weather[0].Main, d.Weather[0].Description
	}
	place := d.Name
	if d.Sys.Country != "" {
		place += ", " + d.Sys.Country
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Weather in %s\n\n", weatherEmoji(condition), place)
	fmt.Fprintf(&b, "🌡️ Temperature: %.1f°C (feels like %.1f°C)\n", d.Main.Temp, d.Main.FeelsLike)
	fmt.Fprintf(&b, "📊 Range: %.1f°C - %.1f°C\n", d.Main.TempMin, d.Main.TempMax)
	fmt.Fprintf(&b, "💧 Humidity: %d%%\n", d.Main.Humidity)
	fmt.Fprintf(&b, "🌤️ Conditions: %s\n", titleFirst(desc))
	fmt.Fprintf(&b, "💨 Wind: %.1f m/s", d.Wind.Speed)
	return b.String()
}

func weatherEmoji(condition string) string {
	switch strings.ToLower(condition) {
	case "clear":
		return "☀️"
	case "clouds":
		return "☁️"
	case "rain":
		return "🌧️"
	case "drizzle":
		return "🌦️"
	case "thunderstorm":
		return "⛈️"
	case "snow":
		return "❄️"
	case "mist", "smoke", "haze", "fog":
		return "🌫️"
	}
	return "🌤️"
}
