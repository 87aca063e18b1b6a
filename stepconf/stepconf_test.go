package stepconf

import (
	"io"
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEnv map[string]string

func (m mapEnv) Get(key string) string {
	return m[key]
}

var valid = mapEnv{
	"name":          "Example",
	"build_number":  "11",
	"chunk_size":    "52428800",
	"is_update":     "yes",
	"items":         "item1|item2|item3",
	"password":      "pass1234",
	"empty":         "",
	"mandatory":     "present",
	"export_method": "dev",
	"emptyptr":      "",
	"ptr":           "test",
}

var invalid = mapEnv{
	"name":          "Invalid config",
	"build_number":  "notnumber",
	"is_update":     "notbool",
	"items":         "one,two,three",
	"password":      "pass1234",
	"export_method": "four",
}

type config struct {
	Name         string   `env:"name"`
	BuildNumber  int      `env:"build_number"`
	ChunkSize    int64    `env:"chunk_size"`
	IsUpdate     bool     `env:"is_update"`
	Items        []string `env:"items"`
	Password     Secret   `env:"password"`
	Empty        string   `env:"empty"`
	Mandatory    string   `env:"mandatory,required"`
	ExportMethod string   `env:"export_method,opt[dev,qa,prod]"`
	EmptyPtr     *string  `env:"emptyptr"`
	Ptr          *string  `env:"ptr"`
}

func TestParse(t *testing.T) {
	var c config
	err := NewInputParser(valid).Parse(&c)

	require.NoError(t, err)
	assert.Equal(t, "Example", c.Name)
	assert.Equal(t, 11, c.BuildNumber)
	assert.Equal(t, int64(52428800), c.ChunkSize)
	assert.True(t, c.IsUpdate)
	assert.Equal(t, []string{"item1", "item2", "item3"}, c.Items)
	assert.Equal(t, Secret("pass1234"), c.Password)
	assert.Equal(t, "", c.Empty)
	assert.Equal(t, "present", c.Mandatory)
	assert.Equal(t, "dev", c.ExportMethod)
	assert.Nil(t, c.EmptyPtr)
	require.NotNil(t, c.Ptr)
	assert.Equal(t, "test", *c.Ptr)
}

func TestParse_KeepsPresetValues(t *testing.T) {
	c := struct {
		Port     string `env:"PORT"`
		Attempts int    `env:"CHUNK_ATTEMPTS"`
		Provider string `env:"SOURCE_PROVIDER,opt[drive,s3]"`
	}{Port: "3000", Attempts: 1, Provider: "drive"}

	err := NewInputParser(mapEnv{"CHUNK_ATTEMPTS": "4"}).Parse(&c)

	require.NoError(t, err)
	assert.Equal(t, "3000", c.Port)
	assert.Equal(t, 4, c.Attempts)
	assert.Equal(t, "drive", c.Provider)
}

func TestParse_NotPointer(t *testing.T) {
	var c config
	assert.Equal(t, ErrNotStructPtr, NewInputParser(valid).Parse(c))
}

func TestParse_NotStruct(t *testing.T) {
	var basicType string
	assert.Equal(t, ErrNotStructPtr, NewInputParser(valid).Parse(&basicType))
}

func TestParse_InvalidEnvs(t *testing.T) {
	var c config
	err := NewInputParser(invalid).Parse(&c)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "BuildNumber: notnumber: can't convert to int")
	assert.Contains(t, err.Error(), "IsUpdate: notbool: can't convert to bool")
	assert.Contains(t, err.Error(), "Mandatory: required variable is not present")
	assert.Contains(t, err.Error(), "ExportMethod: four: value is not in value options (dev, qa, prod)")
}

func TestParse_UnknownConstraint(t *testing.T) {
	c := struct {
		Length string `env:"length,length"`
	}{}
	assert.Error(t, NewInputParser(mapEnv{"length": "5"}).Parse(&c))
}

func TestParse_Required(t *testing.T) {
	type requiredConfig struct {
		Required string `env:"required,required"`
	}

	var missing requiredConfig
	assert.Error(t, NewInputParser(mapEnv{}).Parse(&missing))

	var set requiredConfig
	assert.NoError(t, NewInputParser(mapEnv{"required": "set"}).Parse(&set))
}

func TestParse_Path(t *testing.T) {
	type pathConfig struct {
		File string `env:"file,file"`
		Dir  string `env:"dir,dir"`
	}
	dir := t.TempDir()
	file, err := os.CreateTemp(dir, "stepconf_test")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	var ok pathConfig
	assert.NoError(t, NewInputParser(mapEnv{"file": file.Name(), "dir": dir}).Parse(&ok))

	var missing pathConfig
	assert.Error(t, NewInputParser(mapEnv{"file": "/not/exist", "dir": dir}).Parse(&missing))

	var notDir pathConfig
	assert.Error(t, NewInputParser(mapEnv{"file": file.Name(), "dir": file.Name()}).Parse(&notDir))
}

func TestParse_ValueOptionsWithComma(t *testing.T) {
	type optionConfig struct {
		Option string `env:"option,opt[opt1,opt2,'opt1,opt2']"`
	}

	var c optionConfig
	require.NoError(t, NewInputParser(mapEnv{"option": "opt1,opt2"}).Parse(&c))
	assert.Equal(t, "opt1,opt2", c.Option)

	var empty optionConfig
	assert.Error(t, NewInputParser(mapEnv{"option": ""}).Parse(&empty))
}

func Test_valueString(t *testing.T) {
	var (
		s = "test"
		i = 99
		b = true
	)
	var (
		sNilPtr *string
		iNilPtr *int64
		bNilPtr *bool
	)

	tests := []struct {
		name string
		v    reflect.Value
		want string
	}{
		{"string", reflect.ValueOf(s), "test"},
		{"string ptr", reflect.ValueOf(&s), "test"},
		{"string nil-ptr", reflect.ValueOf(sNilPtr), ""},
		{"int", reflect.ValueOf(i), "99"},
		{"int ptr", reflect.ValueOf(&i), "99"},
		{"int64 nil-ptr", reflect.ValueOf(iNilPtr), ""},
		{"bool", reflect.ValueOf(b), "true"},
		{"bool ptr", reflect.ValueOf(&b), "true"},
		{"bool nil-ptr", reflect.ValueOf(bNilPtr), ""},
		{"secret", reflect.ValueOf(Secret("token")), "*****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valueString(tt.v))
		})
	}
}

func Test_PrintFormat(t *testing.T) {
	type testConfig struct {
		SimpleString         string `env:"simple_string"`
		FieldWithoutEnvTag   string
		StringThatCanBeEmpty string `env:"string_that_can_be_empty"`
		IntThatCanBeEmpty    int    `env:"int_that_can_be_empty"`
		BoolThatCanBeEmpty   bool   `env:"bool_that_can_be_empty"`
		SensitiveInput       Secret `env:"sensitive_input"`
		ValueOptionInput     string `env:"value_option_input,opt[first,second,third]"`
		RequiredInput        string `env:"required_input,required"`
	}

	cfg := testConfig{
		SimpleString:       "simple value",
		FieldWithoutEnvTag: "This field doesn't have a struct tag",
		SensitiveInput:     "my secret",
		ValueOptionInput:   "second",
		RequiredInput:      "value",
	}

	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	origStdout := os.Stdout
	os.Stdout = writer

	Print(cfg)

	os.Stdout = origStdout
	require.NoError(t, writer.Close())

	content, err := io.ReadAll(reader)
	require.NoError(t, err)

	expected := "\x1b[34;1mTestConfig:\n\x1b[0m" + `- simple_string: simple value
- FieldWithoutEnvTag: This field doesn't have a struct tag
- string_that_can_be_empty: <unset>
- int_that_can_be_empty: <unset>
- bool_that_can_be_empty: <unset>
- sensitive_input: *****
- value_option_input: second
- required_input: value
`
	assert.Equal(t, expected, string(content))
}
