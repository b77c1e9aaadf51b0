package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Listen    string    `koanf:"listen"`
	Ics       Ics       `koanf:"ics"`
	Expansion Expansion `koanf:"expansion"`
	Database  Database  `koanf:"db"`
}

type Ics struct {
	// ProductId is the PRODID written on outbound calendars.
	ProductId string `koanf:"productid"`
	// UidDomain is appended to outbound UIDs and stripped from incoming ones.
	UidDomain string `koanf:"uiddomain"`
}

type Expansion struct {
	HorizonDays    int `koanf:"horizondays"`
	MaxOccurrences int `koanf:"maxoccurrences"`
}

type Database struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`

	// MaxConns and MinConns size the connection pool; zero keeps the pgx default.
	MaxConns int32 `koanf:"maxconns"`
	MinConns int32 `koanf:"minconns"`
}

func Defaults() Application {
	return Application{
		Listen: ":8181",
		Ics: Ics{
			ProductId: "-//calsync//calsync 1.0//EN",
			UidDomain: "calsync",
		},
		Expansion: Expansion{
			HorizonDays:    365,
			MaxOccurrences: 5000,
		},
		Database: Database{
			Host:     "localhost",
			Port:     5432,
			User:     "calsync",
			Pass:     "",
			Name:     "calsync",
			Schema:   "calsync",
			MaxConns: 25,
			MinConns: 5,
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "CALSYNC_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "CALSYNC_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}
