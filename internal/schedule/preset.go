package schedule

// Preset is one of the temperature modes a climate entity can be in.
type Preset string

const (
	PresetHome     Preset = "home"
	PresetAway     Preset = "away"
	PresetSleep    Preset = "sleep"
	PresetVacation Preset = "vacation"
)

// DefaultPreset is used when no schedule entry applies.
const DefaultPreset = PresetHome

// Presets lists all valid presets.
var Presets = []Preset{PresetHome, PresetAway, PresetSleep, PresetVacation}

func (p Preset) Valid() bool {
	for _, preset := range Presets {
		if p == preset {
			return true
		}
	}
	return false
}

func (p Preset) String() string {
	return string(p)
}

// Temperatures maps each preset to its target temperature (in the device's unit).
type Temperatures map[Preset]float64
