package models

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// Extra holds document keys this version does not model. They are written back
// untouched so another client's fields survive a save.
type Extra map[string]json.RawMessage

var (
	projectKeys         = jsonKeys(reflect.TypeOf(Project{}))
	materialKeys        = jsonKeys(reflect.TypeOf(Material{}))
	projectIdeaKeys     = jsonKeys(reflect.TypeOf(ProjectIdea{}))
	imageKeys           = jsonKeys(reflect.TypeOf(Image{}))
	projectMaterialKeys = jsonKeys(reflect.TypeOf(ProjectMaterial{}))
)

// jsonKeys lists the lower-cased JSON names of t's fields, descending into
// untagged embedded structs the way encoding/json does.
func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := map[string]struct{}{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			for k := range jsonKeys(f.Type) {
				keys[k] = struct{}{}
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys[strings.ToLower(name)] = struct{}{}
	}
	return keys
}

// decodeKeeping decodes data into dst and returns the keys no field claimed.
func decodeKeeping(data []byte, dst any, known map[string]struct{}) (Extra, error) {
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	var extra Extra
	for k, v := range fields {
		if _, ok := known[strings.ToLower(k)]; ok {
			continue
		}
		if extra == nil {
			extra = Extra{}
		}
		extra[k] = v
	}
	return extra, nil
}

// encodeKeeping encodes v and appends extra after the modelled fields.
func encodeKeeping(v any, extra Extra) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return out, err
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(out[:len(out)-1])
	empty := len(bytes.TrimSpace(out[1:len(out)-1])) == 0
	for _, k := range keys {
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return encodeKeeping(plain(p), p.Extra)
}

func (p *Project) UnmarshalJSON(data []byte) error {
	type plain Project
	extra, err := decodeKeeping(data, (*plain)(p), projectKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	return nil
}

func (m Material) MarshalJSON() ([]byte, error) {
	type plain Material
	return encodeKeeping(plain(m), m.Extra)
}

func (m *Material) UnmarshalJSON(data []byte) error {
	type plain Material
	extra, err := decodeKeeping(data, (*plain)(m), materialKeys)
	if err != nil {
		return err
	}
	m.Extra = extra
	return nil
}

func (i ProjectIdea) MarshalJSON() ([]byte, error) {
	type plain ProjectIdea
	return encodeKeeping(plain(i), i.Extra)
}

func (i *ProjectIdea) UnmarshalJSON(data []byte) error {
	type plain ProjectIdea
	extra, err := decodeKeeping(data, (*plain)(i), projectIdeaKeys)
	if err != nil {
		return err
	}
	i.Extra = extra
	return nil
}

func (img Image) MarshalJSON() ([]byte, error) {
	type plain Image
	return encodeKeeping(plain(img), img.Extra)
}

func (img *Image) UnmarshalJSON(data []byte) error {
	type plain Image
	extra, err := decodeKeeping(data, (*plain)(img), imageKeys)
	if err != nil {
		return err
	}
	img.Extra = extra
	return nil
}

func (pm ProjectMaterial) MarshalJSON() ([]byte, error) {
	type plain ProjectMaterial
	return encodeKeeping(plain(pm), pm.Extra)
}

func (pm *ProjectMaterial) UnmarshalJSON(data []byte) error {
	type plain ProjectMaterial
	extra, err := decodeKeeping(data, (*plain)(pm), projectMaterialKeys)
	if err != nil {
		return err
	}
	pm.Extra = extra
	return nil
}
