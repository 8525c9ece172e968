package config

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/magiconair/properties"
	"github.com/spf13/viper"
)

// propertiesCodec reads and writes Java-style key=value files. Keys stay flat.
type propertiesCodec struct{}

func (propertiesCodec) Decode(b []byte, v map[string]any) error {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(b)
	if err != nil {
		return err
	}
	for _, k := range p.Keys() {
		v[k], _ = p.Get(k)
	}
	return nil
}

func (propertiesCodec) Encode(v map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := properties.NewProperties()
	p.DisableExpansion = true
	for _, k := range keys {
		if _, _, err := p.Set(k, fmt.Sprint(v[k])); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// codecs extends viper's built-in formats with properties files.
func codecs() (*viper.DefaultCodecRegistry, error) {
	reg := viper.NewCodecRegistry()
	for _, ext := range []string{"properties", "props", "prop"} {
		if err := reg.RegisterCodec(ext, propertiesCodec{}); err != nil {
			return nil, fmt.Errorf("register %s codec: %w", ext, err)
		}
	}
	return reg, nil
}
