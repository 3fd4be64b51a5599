/*
Copyright (c) SVWS Tools contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package srcdb

// Source describes the SVWS database copy the run operates on. Populated from
// CLI flags and the config file.
type Source struct {
	DBType      string `json:"db_type"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	Password    string `json:"password"`
	DBName      string `json:"db_name"`
	DBFile      string `json:"db_file"`
	SSLMode     string `json:"ssl_mode"`
	SSLCertPath string `json:"ssl_cert_path"`
	SSLKey      string `json:"ssl_key"`
	SSLRootCert string `json:"ssl_root_cert"`
	Uri         string `json:"uri"`

	TableList        string `json:"table_list"`
	ExcludeTableList string `json:"exclude_table_list"`

	DBVersion string `json:"db_version"`

	sourceDB SourceDB `json:"-"`
}

func (s *Source) Clone() *Source {
	newS := *s
	return &newS
}

func (s *Source) DB() SourceDB {
	if s.sourceDB == nil {
		s.sourceDB = newSourceDB(s)
	}
	return s.sourceDB
}
