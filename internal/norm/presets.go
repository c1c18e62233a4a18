package norm

import "fmt"

// Preset fits measured from a curated H&E reference set. Selecting a preset
// is equivalent to fitting a reference image once at startup.
var presets = map[Variant]map[string]Fit{
	Standard: {
		"v1": {
			Mean: [3]float64{72.909996, 20.8268, -4.9465},
			Std:  [3]float64{18.560713, 14.889295, 5.6756},
		},
	},
	Fast: {
		"v1": {
			Mean: [3]float64{63.71194, 20.716246, -4.979908},
			Std:  [3]float64{14.52781, 10.737022, 3.707802},
		},
	},
}

// Preset returns the named preset fit for a variant.
func Preset(variant Variant, name string) (Fit, error) {
	byName, ok := presets[variant]
	if !ok {
		return Fit{}, fmt.Errorf("no presets for variant %d", variant)
	}
	f, ok := byName[name]
	if !ok {
		return Fit{}, fmt.Errorf("unknown normalizer preset %q", name)
	}
	return f, nil
}

// FitPreset sets the normalizer fit to the named preset.
func (n *Normalizer) FitPreset(name string) error {
	f, err := Preset(n.variant, name)
	if err != nil {
		return err
	}
	n.fit = f
	return nil
}
