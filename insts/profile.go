package insts

import (
	"fmt"
	"sort"
)

// Profile is a target core family and the extensions it implements.
type Profile struct {
	Name string
	Ext  Extension
}

// BookE reports whether the profile follows the embedded programming
// model.
func (p Profile) BookE() bool {
	return p.Ext.Has(ExtBookE)
}

// Supports64 reports whether the profile can run in 64-bit mode.
func (p Profile) Supports64() bool {
	return p.Ext.Has(ExtBits64)
}

var profiles = map[string]Profile{
	"e200z6": {Name: "e200z6", Ext: ExtBookE | ExtSPE | ExtEFPSingle},
	"e300":   {Name: "e300", Ext: ExtFPU},
	"e500v1": {Name: "e500v1", Ext: ExtBookE | ExtSPE | ExtEFPSingle},
	"e500v2": {Name: "e500v2", Ext: ExtBookE | ExtSPE | ExtEFPSingle | ExtEFPDouble},
	"e500mc": {Name: "e500mc", Ext: ExtBookE | ExtFPU | ExtDoorbell},
	"e5500":  {Name: "e5500", Ext: ExtBookE | ExtFPU | ExtDoorbell | ExtBits64},
	"e6500":  {Name: "e6500", Ext: ExtBookE | ExtFPU | ExtDoorbell | ExtBits64 | ExtAltiVec},
	"ppc440": {Name: "ppc440", Ext: ExtBookE},
}

// DefaultProfile is the profile used when none is configured.
const DefaultProfile = "e500v2"

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown target profile %q", name)
	}
	return p, nil
}

// MustProfile is LookupProfile for names known at compile time.
func MustProfile(name string) Profile {
	p, err := LookupProfile(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Profiles lists the catalog names in sorted order.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
