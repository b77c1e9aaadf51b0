package ics

import (
	"regexp"
	"strings"
	"time"
)

// windowsZones maps Windows time zone identifiers, as sent by Exchange and
// Outlook, to IANA zones.
var windowsZones = map[string]string{
	"Dateline Standard Time":          "Etc/GMT+12",
	"UTC-11":                          "Etc/GMT+11",
	"Aleutian Standard Time":          "America/Adak",
	"Hawaiian Standard Time":          "Pacific/Honolulu",
	"Marquesas Standard Time":         "Pacific/Marquesas",
	"Alaskan Standard Time":           "America/Anchorage",
	"UTC-09":                          "Etc/GMT+9",
	"Pacific Standard Time (Mexico)":  "America/Tijuana",
	"UTC-08":                          "Etc/GMT+8",
	"Pacific Standard Time":           "America/Los_Angeles",
	"US Mountain Standard Time":       "America/Phoenix",
	"Mountain Standard Time (Mexico)": "America/Mazatlan",
	"Mountain Standard Time":          "America/Denver",
	"Yukon Standard Time":             "America/Whitehorse",
	"Central America Standard Time":   "America/Guatemala",
	"Central Standard Time":           "America/Chicago",
	"Easter Island Standard Time":     "Pacific/Easter",
	"Central Standard Time (Mexico)":  "America/Mexico_City",
	"Canada Central Standard Time":    "America/Regina",
	"SA Pacific Standard Time":        "America/Bogota",
	"Eastern Standard Time (Mexico)":  "America/Cancun",
	"Eastern Standard Time":           "America/New_York",
	"Haiti Standard Time":             "America/Port-au-Prince",
	"Cuba Standard Time":              "America/Havana",
	"US Eastern Standard Time":        "America/Indianapolis",
	"Turks And Caicos Standard Time":  "America/Grand_Turk",
	"Paraguay Standard Time":          "America/Asuncion",
	"Atlantic Standard Time":          "America/Halifax",
	"Venezuela Standard Time":         "America/Caracas",
	"Central Brazilian Standard Time": "America/Cuiaba",
	"SA Western Standard Time":        "America/La_Paz",
	"Pacific SA Standard Time":        "America/Santiago",
	"Newfoundland Standard Time":      "America/St_Johns",
	"Tocantins Standard Time":         "America/Araguaina",
	"E. South America Standard Time":  "America/Sao_Paulo",
	"SA Eastern Standard Time":        "America/Cayenne",
	"Argentina Standard Time":         "America/Buenos_Aires",
	"Greenland Standard Time":         "America/Godthab",
	"Montevideo Standard Time":        "America/Montevideo",
	"Magallanes Standard Time":        "America/Punta_Arenas",
	"Saint Pierre Standard Time":      "America/Miquelon",
	"Bahia Standard Time":             "America/Bahia",
	"UTC-02":                          "Etc/GMT+2",
	"Mid-Atlantic Standard Time":      "Etc/GMT+2",
	"Azores Standard Time":            "Atlantic/Azores",
	"Cape Verde Standard Time":        "Atlantic/Cape_Verde",
	"UTC":                             "Etc/UTC",
	"GMT Standard Time":               "Europe/London",
	"Greenwich Standard Time":         "Atlantic/Reykjavik",
	"Sao Tome Standard Time":          "Africa/Sao_Tome",
	"Morocco Standard Time":           "Africa/Casablanca",
	"W. Europe Standard Time":         "Europe/Berlin",
	"Central Europe Standard Time":    "Europe/Budapest",
	"Romance Standard Time":           "Europe/Paris",
	"Central European Standard Time":  "Europe/Warsaw",
	"W. Central Africa Standard Time": "Africa/Lagos",
	"Jordan Standard Time":            "Asia/Amman",
	"GTB Standard Time":               "Europe/Bucharest",
	"Middle East Standard Time":       "Asia/Beirut",
	"Egypt Standard Time":             "Africa/Cairo",
	"E. Europe Standard Time":         "Europe/Chisinau",
	"Syria Standard Time":             "Asia/Damascus",
	"West Bank Standard Time":         "Asia/Hebron",
	"South Africa Standard Time":      "Africa/Johannesburg",
	"FLE Standard Time":               "Europe/Kiev",
	"Israel Standard Time":            "Asia/Jerusalem",
	"South Sudan Standard Time":       "Africa/Juba",
	"Kaliningrad Standard Time":       "Europe/Kaliningrad",
	"Sudan Standard Time":             "Africa/Khartoum",
	"Libya Standard Time":             "Africa/Tripoli",
	"Namibia Standard Time":           "Africa/Windhoek",
	"Arabic Standard Time":            "Asia/Baghdad",
	"Turkey Standard Time":            "Europe/Istanbul",
	"Arab Standard Time":              "Asia/Riyadh",
	"Belarus Standard Time":           "Europe/Minsk",
	"Russian Standard Time":           "Europe/Moscow",
	"E. Africa Standard Time":         "Africa/Nairobi",
	"Volgograd Standard Time":         "Europe/Volgograd",
	"Iran Standard Time":              "Asia/Tehran",
	"Arabian Standard Time":           "Asia/Dubai",
	"Astrakhan Standard Time":         "Europe/Astrakhan",
	"Azerbaijan Standard Time":        "Asia/Baku",
	"Russia Time Zone 3":              "Europe/Samara",
	"Mauritius Standard Time":         "Indian/Mauritius",
	"Saratov Standard Time":           "Europe/Saratov",
	"Georgian Standard Time":          "Asia/Tbilisi",
	"Caucasus Standard Time":          "Asia/Yerevan",
	"Afghanistan Standard Time":       "Asia/Kabul",
	"West Asia Standard Time":         "Asia/Tashkent",
	"Ekaterinburg Standard Time":      "Asia/Yekaterinburg",
	"Pakistan Standard Time":          "Asia/Karachi",
	"Qyzylorda Standard Time":         "Asia/Qyzylorda",
	"India Standard Time":             "Asia/Calcutta",
	"Sri Lanka Standard Time":         "Asia/Colombo",
	"Nepal Standard Time":             "Asia/Katmandu",
	"Central Asia Standard Time":      "Asia/Almaty",
	"Bangladesh Standard Time":        "Asia/Dhaka",
	"Omsk Standard Time":              "Asia/Omsk",
	"Myanmar Standard Time":           "Asia/Rangoon",
	"SE Asia Standard Time":           "Asia/Bangkok",
	"Altai Standard Time":             "Asia/Barnaul",
	"W. Mongolia Standard Time":       "Asia/Hovd",
	"North Asia Standard Time":        "Asia/Krasnoyarsk",
	"N. Central Asia Standard Time":   "Asia/Novosibirsk",
	"Tomsk Standard Time":             "Asia/Tomsk",
	"China Standard Time":             "Asia/Shanghai",
	"North Asia East Standard Time":   "Asia/Irkutsk",
	"Singapore Standard Time":         "Asia/Singapore",
	"W. Australia Standard Time":      "Australia/Perth",
	"Taipei Standard Time":            "Asia/Taipei",
	"Ulaanbaatar Standard Time":       "Asia/Ulaanbaatar",
	"Aus Central W. Standard Time":    "Australia/Eucla",
	"Transbaikal Standard Time":       "Asia/Chita",
	"Tokyo Standard Time":             "Asia/Tokyo",
	"North Korea Standard Time":       "Asia/Pyongyang",
	"Korea Standard Time":             "Asia/Seoul",
	"Yakutsk Standard Time":           "Asia/Yakutsk",
	"Cen. Australia Standard Time":    "Australia/Adelaide",
	"AUS Central Standard Time":       "Australia/Darwin",
	"E. Australia Standard Time":      "Australia/Brisbane",
	"AUS Eastern Standard Time":       "Australia/Sydney",
	"West Pacific Standard Time":      "Pacific/Port_Moresby",
	"Tasmania Standard Time":          "Australia/Hobart",
	"Vladivostok Standard Time":       "Asia/Vladivostok",
	"Lord Howe Standard Time":         "Australia/Lord_Howe",
	"Bougainville Standard Time":      "Pacific/Bougainville",
	"Russia Time Zone 10":             "Asia/Srednekolymsk",
	"Magadan Standard Time":           "Asia/Magadan",
	"Norfolk Standard Time":           "Pacific/Norfolk",
	"Sakhalin Standard Time":          "Asia/Sakhalin",
	"Central Pacific Standard Time":   "Pacific/Guadalcanal",
	"Russia Time Zone 11":             "Asia/Kamchatka",
	"New Zealand Standard Time":       "Pacific/Auckland",
	"UTC+12":                          "Etc/GMT-12",
	"Fiji Standard Time":              "Pacific/Fiji",
	"Chatham Islands Standard Time":   "Pacific/Chatham",
	"UTC+13":                          "Etc/GMT-13",
	"Tonga Standard Time":             "Pacific/Tongatapu",
	"Samoa Standard Time":             "Pacific/Apia",
	"Line Islands Standard Time":      "Pacific/Kiritimati",
}

// displayZones maps Outlook display names, with their "(UTC+hh:mm)" prefix
// removed, to Windows identifiers.
var displayZones = map[string]string{
	"Pacific Time (US & Canada)":                        "Pacific Standard Time",
	"Mountain Time (US & Canada)":                       "Mountain Standard Time",
	"Central Time (US & Canada)":                        "Central Standard Time",
	"Eastern Time (US & Canada)":                        "Eastern Standard Time",
	"Atlantic Time (Canada)":                            "Atlantic Standard Time",
	"Dublin, Edinburgh, Lisbon, London":                 "GMT Standard Time",
	"Amsterdam, Berlin, Bern, Rome, Stockholm, Vienna":  "W. Europe Standard Time",
	"Brussels, Copenhagen, Madrid, Paris":               "Romance Standard Time",
	"Sarajevo, Skopje, Warsaw, Zagreb":                  "Central European Standard Time",
	"Belgrade, Bratislava, Budapest, Ljubljana, Prague": "Central Europe Standard Time",
	"Helsinki, Kyiv, Riga, Sofia, Tallinn, Vilnius":     "FLE Standard Time",
	"Athens, Bucharest":                                 "GTB Standard Time",
	"Moscow, St. Petersburg":                            "Russian Standard Time",
	"Chennai, Kolkata, Mumbai, New Delhi":               "India Standard Time",
	"Beijing, Chongqing, Hong Kong, Urumqi":             "China Standard Time",
	"Osaka, Sapporo, Tokyo":                             "Tokyo Standard Time",
	"Canberra, Melbourne, Sydney":                       "AUS Eastern Standard Time",
	"Auckland, Wellington":                              "New Zealand Standard Time",
	"Coordinated Universal Time":                        "UTC",
	"Brasilia":                                          "E. South America Standard Time",
	"Kuala Lumpur, Singapore":                           "Singapore Standard Time",
	"Abu Dhabi, Muscat":                                 "Arabian Standard Time",
	"Jerusalem":                                         "Israel Standard Time",
	"Istanbul":                                          "Turkey Standard Time",
	"Seoul":                                             "Korea Standard Time",
	"Hawaii":                                            "Hawaiian Standard Time",
	"Alaska":                                            "Alaskan Standard Time",
	"Arizona":                                           "US Mountain Standard Time",
	"Guadalajara, Mexico City, Monterrey":               "Central Standard Time (Mexico)",
	"Bogota, Lima, Quito, Rio Branco":                   "SA Pacific Standard Time",
	"Buenos Aires":                                      "Argentina Standard Time",
	"Harare, Pretoria":                                  "South Africa Standard Time",
	"Cairo":                                             "Egypt Standard Time",
	"Nairobi":                                           "E. Africa Standard Time",
	"Bangkok, Hanoi, Jakarta":                           "SE Asia Standard Time",
	"Perth":                                             "W. Australia Standard Time",
	"Brisbane":                                          "E. Australia Standard Time",
	"Adelaide":                                          "Cen. Australia Standard Time",
	"Darwin":                                            "AUS Central Standard Time",
	"Hobart":                                            "Tasmania Standard Time",
	"Islamabad, Karachi":                                "Pakistan Standard Time",
	"Tehran":                                            "Iran Standard Time",
	"Kabul":                                             "Afghanistan Standard Time",
	"Kathmandu":                                         "Nepal Standard Time",
	"Yangon (Rangoon)":                                  "Myanmar Standard Time",
	"Newfoundland":                                      "Newfoundland Standard Time",
	"Casablanca":                                        "Morocco Standard Time",
	"Azores":                                            "Azores Standard Time",
	"Fiji":                                              "Fiji Standard Time",
	"Taipei":                                            "Taipei Standard Time",
	"Kuwait, Riyadh":                                    "Arab Standard Time",
	"Baghdad":                                           "Arabic Standard Time",
	"Minsk":                                             "Belarus Standard Time",
	"Windhoek":                                          "Namibia Standard Time",
	"West Central Africa":                               "W. Central Africa Standard Time",
	"Monrovia, Reykjavik":                               "Greenwich Standard Time",
	"Tijuana, Baja California":                          "Pacific Standard Time (Mexico)",
	"Indiana (East)":                                    "US Eastern Standard Time",
	"Saskatchewan":                                      "Canada Central Standard Time",
	"Central America":                                   "Central America Standard Time",
	"Santiago":                                          "Pacific SA Standard Time",
	"Caracas":                                           "Venezuela Standard Time",
	"Montevideo":                                        "Montevideo Standard Time",
	"Greenland":                                         "Greenland Standard Time",
	"Astana":                                            "Central Asia Standard Time",
	"Dhaka":                                             "Bangladesh Standard Time",
	"Yekaterinburg":                                     "Ekaterinburg Standard Time",
	"Vladivostok":                                       "Vladivostok Standard Time",
	"Magadan":                                           "Magadan Standard Time",
	"Nuku'alofa":                                        "Tonga Standard Time",
	"Samoa":                                             "Samoa Standard Time",
	"Sri Jayawardenepura":                               "Sri Lanka Standard Time",
	"Irkutsk":                                           "North Asia East Standard Time",
	"Krasnoyarsk":                                       "North Asia Standard Time",
	"Novosibirsk":                                       "N. Central Asia Standard Time",
	"Yakutsk":                                           "Yakutsk Standard Time",
	"Amman":                                             "Jordan Standard Time",
	"Beirut":                                            "Middle East Standard Time",
	"Damascus":                                          "Syria Standard Time",
	"Chisinau":                                          "E. Europe Standard Time",
	"Tbilisi":                                           "Georgian Standard Time",
	"Baku":                                              "Azerbaijan Standard Time",
	"Yerevan":                                           "Caucasus Standard Time",
	"Port Louis":                                        "Mauritius Standard Time",
	"Ashgabat, Tashkent":                                "West Asia Standard Time",
	"Ulaanbaatar":                                       "Ulaanbaatar Standard Time",
	"Guam, Port Moresby":                                "West Pacific Standard Time",
	"Solomon Is., New Caledonia":                        "Central Pacific Standard Time",
	"Coordinated Universal Time-11":                     "UTC-11",
	"Coordinated Universal Time+12":                     "UTC+12",
	"International Date Line West":                      "Dateline Standard Time",
	"Mid-Atlantic - Old":                                "Mid-Atlantic Standard Time",
	"Cape Verde Is.":                                    "Cape Verde Standard Time",
	"Salvador":                                          "Bahia Standard Time",
	"Asuncion":                                          "Paraguay Standard Time",
	"Cuiaba":                                            "Central Brazilian Standard Time",
	"Georgetown, La Paz, Manaus, San Juan":              "SA Western Standard Time",
	"Cayenne, Fortaleza":                                "SA Eastern Standard Time",
	"Havana":                                            "Cuba Standard Time",
	"Haiti":                                             "Haiti Standard Time",
	"Chetumal":                                          "Eastern Standard Time (Mexico)",
	"Chihuahua, La Paz, Mazatlan":                       "Mountain Standard Time (Mexico)",
	"Easter Island":                                     "Easter Island Standard Time",
	"Marquesas Islands":                                 "Marquesas Standard Time",
	"Aleutian Islands":                                  "Aleutian Standard Time",
	"Chatham Islands":                                   "Chatham Islands Standard Time",
	"Kiritimati Island":                                 "Line Islands Standard Time",
	"Lord Howe Island":                                  "Lord Howe Standard Time",
	"Norfolk Island":                                    "Norfolk Standard Time",
	"Bougainville Island":                               "Bougainville Standard Time",
	"Sakhalin":                                          "Sakhalin Standard Time",
	"Pyongyang":                                         "North Korea Standard Time",
	"Eucla":                                             "Aus Central W. Standard Time",
	"Chita":                                             "Transbaikal Standard Time",
	"Barnaul, Gorno-Altaysk":                            "Altai Standard Time",
	"Hovd":                                              "W. Mongolia Standard Time",
	"Tomsk":                                             "Tomsk Standard Time",
	"Omsk":                                              "Omsk Standard Time",
	"Astrakhan, Ulyanovsk":                              "Astrakhan Standard Time",
	"Izhevsk, Samara":                                   "Russia Time Zone 3",
	"Saratov":                                           "Saratov Standard Time",
	"Volgograd":                                         "Volgograd Standard Time",
	"Kaliningrad":                                       "Kaliningrad Standard Time",
	"Tripoli":                                           "Libya Standard Time",
	"Khartoum":                                          "Sudan Standard Time",
	"Juba":                                              "South Sudan Standard Time",
	"Gaza, Hebron":                                      "West Bank Standard Time",
	"Sao Tome":                                          "Sao Tome Standard Time",
	"Qyzylorda":                                         "Qyzylorda Standard Time",
	"Chokurdakh":                                        "Russia Time Zone 10",
	"Anadyr, Petropavlovsk-Kamchatsky":                  "Russia Time Zone 11",
	"Punta Arenas":                                      "Magallanes Standard Time",
	"Saint Pierre and Miquelon":                         "Saint Pierre Standard Time",
	"Araguaina":                                         "Tocantins Standard Time",
	"Turks and Caicos":                                  "Turks And Caicos Standard Time",
	"Whitehorse":                                        "Yukon Standard Time",
}

var displayPrefix = regexp.MustCompile(`^\((UTC|GMT)([+-]\d{1,2}:\d{2})?\)\s*`)

// Resolve maps a TZID to an IANA zone name. Windows identifiers and Outlook
// display names are looked up in static tables; anything else must already be
// an IANA name known to the system zone database.
func Resolve(name string) (string, bool) {
	name = strings.Trim(strings.TrimSpace(name), `"`)
	if name == "" {
		return "", false
	}
	if iana, ok := windowsZones[name]; ok {
		return iana, true
	}
	if windows, ok := displayZones[displayPrefix.ReplaceAllString(name, "")]; ok {
		return windowsZones[windows], true
	}
	if name == "Local" {
		return "", false
	}
	if _, err := time.LoadLocation(name); err == nil {
		return name, true
	}
	return "", false
}

func loadZone(name string) (*time.Location, string, bool) {
	iana, ok := Resolve(name)
	if !ok {
		return nil, "", false
	}
	loc, err := time.LoadLocation(iana)
	if err != nil {
		return nil, "", false
	}
	return loc, iana, true
}
