package intake

import (
	"fmt"

	"github.com/spf13/viper"
)

// FieldMap lists, per logical field, the submitted keys to try in order.
// Form builders name fields per deployment, so the lists are data.
type FieldMap struct {
	PatientName    []string `mapstructure:"patient_name"`
	DateOfBirth    []string `mapstructure:"date_of_birth"`
	Phone          []string `mapstructure:"phone"`
	SecondaryPhone []string `mapstructure:"secondary_phone"`
	Address        []string `mapstructure:"address"`
	PhysicianName  []string `mapstructure:"physician_name"`
	ClinicAddress  []string `mapstructure:"clinic_address"`
	ScheduleDate   []string `mapstructure:"schedule_date"`
	ScheduleTime   []string `mapstructure:"schedule_time"`
	DateOfOrder    []string `mapstructure:"date_of_order"`
	Tests          []string `mapstructure:"tests"`
	CategoryHint   []string `mapstructure:"category"`
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		PatientName:    []string{"patient_name", "patientName", "full_name", "fullName", "name"},
		DateOfBirth:    []string{"date_of_birth", "dateOfBirth", "dob", "birth_date", "birthdate"},
		Phone:          []string{"phone", "phone_number", "phoneNumber", "primary_phone", "mobile"},
		SecondaryPhone: []string{"secondary_phone", "secondaryPhone", "alternate_phone", "alt_phone", "phone_2"},
		Address:        []string{"address", "patient_address", "home_address", "street_address"},
		PhysicianName:  []string{"physician_name", "physicianName", "doctor_name", "doctor", "physician"},
		ClinicAddress:  []string{"clinic_address", "clinicAddress", "physician_address", "doctor_address"},
		ScheduleDate:   []string{"schedule_date", "scheduleDate", "appointment_date", "preferred_date"},
		ScheduleTime:   []string{"schedule_time", "scheduleTime", "appointment_time", "preferred_time", "time_slot"},
		DateOfOrder:    []string{"date_of_order", "dateOfOrder", "order_date"},
		Tests:          []string{"tests", "selected_tests", "test_names", "lab_tests", "test"},
		CategoryHint:   []string{"category", "test_category", "testCategory"},
	}
}

// LoadFieldMap returns the defaults overridden by any field lists present in
// the YAML or JSON file at path. An empty path returns the defaults.
func LoadFieldMap(path string) (FieldMap, error) {
	fm := DefaultFieldMap()
	if path == "" {
		return fm, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return FieldMap{}, fmt.Errorf("read field map %s: %w", path, err)
	}
	var over FieldMap
	if err := v.Unmarshal(&over); err != nil {
		return FieldMap{}, fmt.Errorf("decode field map %s: %w", path, err)
	}
	fm.override(over)
	if err := fm.Validate(); err != nil {
		return FieldMap{}, fmt.Errorf("field map %s: %w", path, err)
	}
	return fm, nil
}

// Validate rejects logical fields left without any candidate key.
func (fm FieldMap) Validate() error {
	for name, keys := range fm.lists() {
		if len(keys) == 0 {
			return fmt.Errorf("%s has no candidate keys", name)
		}
		for _, k := range keys {
			if k == "" {
				return fmt.Errorf("%s has an empty candidate key", name)
			}
		}
	}
	return nil
}

func (fm *FieldMap) override(o FieldMap) {
	for _, f := range []struct{ dst *[]string; src []string }{
		{&fm.PatientName, o.PatientName},
		{&fm.DateOfBirth, o.DateOfBirth},
		{&fm.Phone, o.Phone},
		{&fm.SecondaryPhone, o.SecondaryPhone},
		{&fm.Address, o.Address},
		{&fm.PhysicianName, o.PhysicianName},
		{&fm.ClinicAddress, o.ClinicAddress},
		{&fm.ScheduleDate, o.ScheduleDate},
		{&fm.ScheduleTime, o.ScheduleTime},
		{&fm.DateOfOrder, o.DateOfOrder},
		{&fm.Tests, o.Tests},
		{&fm.CategoryHint, o.CategoryHint},
	} {
		if f.src != nil {
			*f.dst = f.src
		}
	}
}

func (fm FieldMap) lists() map[string][]string {
	return map[string][]string{
		"patient_name":    fm.PatientName,
		"date_of_birth":   fm.DateOfBirth,
		"phone":           fm.Phone,
		"secondary_phone": fm.SecondaryPhone,
		"address":         fm.Address,
		"physician_name":  fm.PhysicianName,
		"clinic_address":  fm.ClinicAddress,
		"schedule_date":   fm.ScheduleDate,
		"schedule_time":   fm.ScheduleTime,
		"date_of_order":   fm.DateOfOrder,
		"tests":           fm.Tests,
		"category":        fm.CategoryHint,
	}
}
