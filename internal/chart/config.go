package chart

import "github.com/keilerkonzept/climate-telemetry-tui/internal/project"

// Kind names one of the three chart surfaces.
type Kind int

const (
	Temperature Kind = iota
	Humidity
	Combined
)

// Kinds lists every surface the adapter needs before it is Ready.
var Kinds = []Kind{Temperature, Humidity, Combined}

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Combined:
		return "combined"
	default:
		return "unknown"
	}
}

const (
	TemperatureColor = "#ff6b6b"
	HumidityColor    = "#4dabf7"
)

type Axis struct {
	Name string
	Unit string
}

// Line is one plotted series; Axis indexes Config.Axes.
type Line struct {
	Name   string
	Unit   string
	Color  string
	Axis   int
	Values []float64
}

// Config is the complete, library-independent description of one chart.
type Config struct {
	Kind   Kind
	Title  string
	Labels []string
	Axes   []Axis
	Lines  []Line
}

var (
	temperatureAxis = Axis{Name: "Temperature (°C)", Unit: "°C"}
	humidityAxis    = Axis{Name: "Humidity (%)", Unit: "%"}
)

// Configs builds the configuration of every surface from s.
func Configs(s project.Series) map[Kind]Config {
	temperature := Line{Name: "Temperature", Unit: "°C", Color: TemperatureColor, Values: s.Temperature}
	humidity := Line{Name: "Humidity", Unit: "%", Color: HumidityColor, Values: s.Humidity}
	combinedHumidity := humidity
	combinedHumidity.Axis = 1

	return map[Kind]Config{
		Temperature: {
			Kind:   Temperature,
			Title:  "Temperature Over Time",
			Labels: s.Labels,
			Axes:   []Axis{temperatureAxis},
			Lines:  []Line{temperature},
		},
		Humidity: {
			Kind:   Humidity,
			Title:  "Humidity Over Time",
			Labels: s.Labels,
			Axes:   []Axis{humidityAxis},
			Lines:  []Line{humidity},
		},
		Combined: {
			Kind:   Combined,
			Title:  "Temperature & Humidity",
			Labels: s.Labels,
			Axes:   []Axis{temperatureAxis, humidityAxis},
			Lines:  []Line{temperature, combinedHumidity},
		},
	}
}
