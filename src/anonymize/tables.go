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
package anonymize

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/svws-tools/svws-anonym/src/anonengine"
	"github.com/svws-tools/svws-anonym/src/srcdb"
)

// SVWS tables the specialized passes know about. All access goes through the
// capability descriptors, so a missing table or column degrades to a logged
// skip instead of failing the run.
const (
	tableSchueler      = "Schueler"
	tableGuardians     = "SchuelerErzAdr"
	tableTeachers      = "K_Lehrer"
	tableCredentials   = "Credentials"
	tableCities        = "K_Ort"
	tableStreets       = "K_Strassen"
	tableGuardianTypes = "K_ErzieherArt"
	tableSchemaVersion = "SVWS_DB_Version"
	tableStudentPhotos = "SchuelerFotos"
	tableTeacherPhotos = "LehrerFotos"
)

const (
	colID              = "ID"
	colBezeichnung     = "Bezeichnung"
	colRevision        = "Revision"
	colGeschlecht      = "Geschlecht"
	colVorname         = "Vorname"
	colAlleVornamen    = "AlleVornamen"
	colNachname        = "Nachname"
	colGeburtsname     = "Geburtsname"
	colStrassenname    = "Strassenname"
	colHausNr          = "HausNr"
	colHausNrZusatz    = "HausNrZusatz"
	colOrtID           = "Ort_ID"
	colPLZ             = "PLZ"
	colGeburtsdatum    = "Geburtsdatum"
	colGeburtsort      = "Geburtsort"
	colTelefon         = "Telefon"
	colFax             = "Fax"
	colHandy           = "Handy"
	colEmail           = "Email"
	colSchulEmail      = "SchulEmail"
	colEmailDienstlich = "EmailDienstlich"
	colKuerzel         = "Kuerzel"
	colPANr            = "PANr"
	colCredentialID    = "Credential_ID"

	colSchuelerID      = "Schueler_ID"
	colErzieherArtID   = "ErzieherArt_ID"
	colAnrede1         = "Anrede1"
	colVorname1        = "Vorname1"
	colName1           = "Name1"
	colAnrede2         = "Anrede2"
	colVorname2        = "Vorname2"
	colName2           = "Name2"
	colErzStrassenname = "ErzStrassenname"
	colErzHausNr       = "ErzHausNr"
	colErzHausNrZusatz = "ErzHausNrZusatz"
	colErzOrtID        = "ErzOrt_ID"
	colErzPLZ          = "ErzPLZ"
	colErzEmail        = "ErzEmail"
	colErzEmail2       = "ErzEmail2"
	colBemerkungen     = "Bemerkungen"

	colBenutzername    = "Benutzername"
	colInitialkennwort = "Initialkennwort"
	colPasswordHash    = "PasswordHash"
	colRSAPublicKey    = "RSAPublicKey"
	colRSAPrivateKey   = "RSAPrivateKey"
	colAES             = "AES"
)

const (
	passStudents    = "students"
	passGuardians   = "guardians"
	passTeachers    = "teachers"
	passCredentials = "credentials"
	passPhotos      = "photos"
	passGeneric     = "generic"
)

// streetSentinel replaces street names that cannot be substituted from the
// reference data; remarkSentinel replaces free-text remark fields. The value
// matches what existing SVWS exports already contain for redacted records.
const (
	streetSentinel = "Anonymisiert"
	remarkSentinel = "Anonymisiert"
)

// Default domain suffixes for derived addresses, overridable per Options.
const (
	dienstEmailDomain   = "dienst.schule-nrw.de"
	privateEmailDomain  = "example-mail.de"
	schuelerEmailDomain = "schueler.schule-nrw.de"
	guardianEmailDomain = "mail-beispiel.de"
)

const initialPasswordLength = 12

// genderFromCode maps the SVWS statistics code in Geschlecht to a name pool:
// 3 = male, 4 = female, 5 = divers. Anything else (NULL, legacy free text)
// resolves with a pool locked randomly per original name.
func genderFromCode(v sql.NullString) anonengine.GenderTag {
	code, ok := nullInt64(v)
	if !ok {
		return anonengine.GenderNone
	}
	switch code {
	case 3:
		return anonengine.GenderMale
	case 4:
		return anonengine.GenderFemale
	case 5:
		return anonengine.GenderNeutral
	default:
		return anonengine.GenderNone
	}
}

// runTablePass drives one pass over one table: capability checks, row scan,
// the per-row build function, then a single transaction for the whole table.
func (p *Pipeline) runTablePass(pass string, tableName string, wanted []string,
	build func(rd *rowReader, row srcdb.Row, cs *changeSet) error) error {
	caps := p.capFor(tableName)
	if caps == nil {
		p.reportSkip(pass, tableName, "table not present")
		return nil
	}
	if !caps.HasPrimaryKey() {
		p.reportSkip(pass, caps.Table, "no primary key")
		return nil
	}
	columns := caps.Select(wanted...)
	if len(columns) == 0 {
		p.reportSkip(pass, caps.Table, "none of the targeted columns exist")
		return nil
	}
	rows, err := p.db.ReadRows(caps.Table, caps.PKColumns, columns)
	if err != nil {
		return fmt.Errorf("reading %s: %w", caps.Table, err)
	}
	rd := newRowReader(columns)
	progress := p.progress.TableStarted(caps.Table, int64(len(rows)))
	var changes []*changeSet
	var cells int64
	for _, row := range rows {
		cs := newChangeSet(row)
		if err := build(rd, row, cs); err != nil {
			progress.Done()
			return err
		}
		changed := !cs.empty()
		if changed {
			changes = append(changes, cs)
			cells += int64(cs.size())
		}
		progress.RowProcessed(changed)
	}
	progress.Done()
	if err := p.applyChanges(caps, changes); err != nil {
		return err
	}
	p.report.addTable(&TableReport{
		Table:        caps.Table,
		Pass:         pass,
		RowsScanned:  int64(len(rows)),
		RowsChanged:  int64(len(changes)),
		CellsChanged: cells,
	})
	log.Infof("table %s: %d rows scanned, %d rows changed, %d cells rewritten", caps.Table, len(rows), len(changes), cells)
	return nil
}

type addressColumns struct {
	street       string
	houseNr      string
	houseNrExtra string
	cityID       string
	plz          string
}

// Schueler and K_Lehrer share their address column names.
var personAddressColumns = addressColumns{
	street:       colStrassenname,
	houseNr:      colHausNr,
	houseNrExtra: colHausNrZusatz,
	cityID:       colOrtID,
	plz:          colPLZ,
}

// substituteAddress rewrites one row's address block from a single geo
// assignment so city, postcode and street stay mutually coherent. Returns the
// assignment and whether the city id column was actually rewritten; rows
// without any address data draw nothing.
func (p *Pipeline) substituteAddress(rd *rowReader, row srcdb.Row, cs *changeSet, cols addressColumns) (anonengine.GeoAssignment, bool) {
	oldStreet := rd.get(row, cols.street)
	oldHausNr := rd.get(row, cols.houseNr)
	oldZusatz := rd.get(row, cols.houseNrExtra)
	oldOrt := rd.get(row, cols.cityID)
	oldPLZ := rd.get(row, cols.plz)

	cs.clear(cols.houseNrExtra, oldZusatz)
	if !present(oldStreet) && !present(oldHausNr) && !present(oldOrt) && !present(oldPLZ) {
		return anonengine.GeoAssignment{}, false
	}

	addr := p.geo.Assign()
	if present(oldStreet) {
		street := addr.Street
		if !addr.HasStreet {
			street = streetSentinel
		}
		cs.set(cols.street, oldStreet, street)
	}
	if present(oldHausNr) {
		cs.set(cols.houseNr, oldHausNr, anonengine.RandomHouseNumber(p.rs))
	}
	wroteCity := false
	if present(oldOrt) {
		cs.set(cols.cityID, oldOrt, strconv.FormatInt(addr.CityID, 10))
		wroteCity = true
	}
	if present(oldPLZ) {
		plz := addr.PLZ
		if plz == "" {
			plz = FakePLZ(p.rs)
		}
		cs.set(cols.plz, oldPLZ, plz)
	}
	return addr, wroteCity
}

// allocateEmail derives a unique address from the substituted name. Rows whose
// name fields were empty still carried an address, so those draw a random pool
// pair instead - the old address must not survive.
func (p *Pipeline) allocateEmail(domain *anonengine.UniquenessDomain, firstName string, lastName string, domainSuffix string) string {
	local := anonengine.EmailLocalPart(firstName, lastName)
	if local == "" {
		local = anonengine.EmailLocalPart(anonengine.Pick(p.rs, p.firstNamePool), anonengine.Pick(p.rs, p.surnamePool))
	}
	return domain.Allocate(local+"@"+domainSuffix, anonengine.UsernameSuffix)
}

// anonymizeStudents rewrites the Schueler table and caches every substituted
// identity for the guardian and credential passes.
func (p *Pipeline) anonymizeStudents() error {
	wanted := []string{
		colGeschlecht, colVorname, colAlleVornamen, colNachname, colGeburtsname,
		colStrassenname, colHausNr, colHausNrZusatz, colOrtID, colPLZ,
		colGeburtsdatum, colGeburtsort, colTelefon, colFax, colEmail, colSchulEmail,
		colCredentialID,
	}
	return p.runTablePass(passStudents, tableSchueler, wanted, func(rd *rowReader, row srcdb.Row, cs *changeSet) error {
		gender := genderFromCode(rd.get(row, colGeschlecht))

		newFirst := ""
		if oldVorname := rd.get(row, colVorname); present(oldVorname) {
			newFirst = p.mapper.Resolve(strings.TrimSpace(oldVorname.String), gender)
			cs.set(colVorname, oldVorname, newFirst)
		}
		if oldAll := rd.get(row, colAlleVornamen); present(oldAll) {
			cs.set(colAlleVornamen, oldAll, p.mapper.ResolveTokens(oldAll.String, gender, newFirst))
		}
		newLast := ""
		if oldName := rd.get(row, colNachname); present(oldName) {
			newLast = p.mapper.ResolveSurname(strings.TrimSpace(oldName.String))
			cs.set(colNachname, oldName, newLast)
		}
		if oldGebName := rd.get(row, colGeburtsname); present(oldGebName) {
			cs.set(colGeburtsname, oldGebName, p.mapper.ResolveSurname(strings.TrimSpace(oldGebName.String)))
		}

		addr, wroteCity := p.substituteAddress(rd, row, cs, personAddressColumns)

		if oldGebDat := rd.get(row, colGeburtsdatum); present(oldGebDat) {
			cs.set(colGeburtsdatum, oldGebDat, anonengine.JitterDate(p.rs, strings.TrimSpace(oldGebDat.String)))
		}
		if oldGebOrt := rd.get(row, colGeburtsort); present(oldGebOrt) {
			cs.set(colGeburtsort, oldGebOrt, p.randomCityName())
		}
		if oldTelefon := rd.get(row, colTelefon); present(oldTelefon) {
			cs.set(colTelefon, oldTelefon, FakePhone(p.rs))
		}
		if oldFax := rd.get(row, colFax); present(oldFax) {
			cs.set(colFax, oldFax, FakePhone(p.rs))
		}
		if oldEmail := rd.get(row, colEmail); present(oldEmail) {
			cs.set(colEmail, oldEmail, p.allocateEmail(p.domains.schuelerEmail, newFirst, newLast, p.opts.PrivateEmailDomain))
		}
		if oldSchulEmail := rd.get(row, colSchulEmail); present(oldSchulEmail) {
			cs.set(colSchulEmail, oldSchulEmail, p.allocateEmail(p.domains.schulEmail, newFirst, newLast, p.opts.SchuelerEmailDomain))
		}

		person := substitutedPerson{FirstName: newFirst, LastName: newLast, CityID: addr.CityID, HasCity: wroteCity}
		if id, ok := pkInt64(row.PKValues[0]); ok {
			p.wards[id] = person
		}
		if credID, ok := nullInt64(rd.get(row, colCredentialID)); ok {
			p.credentialOwners[credID] = person
		}
		return nil
	})
}

type guardianSlot struct {
	anrede  string
	vorname string
	name    string
}

var guardianSlots = [2]guardianSlot{
	{colAnrede1, colVorname1, colName1},
	{colAnrede2, colVorname2, colName2},
}

// anonymizeGuardians rewrites SchuelerErzAdr. Names go through the
// referential resolver so self-reference rows keep the ward's substituted
// first name; the address block is co-located with the ward's new city.
func (p *Pipeline) anonymizeGuardians() error {
	wanted := []string{
		colSchuelerID, colErzieherArtID,
		colAnrede1, colVorname1, colName1, colAnrede2, colVorname2, colName2,
		colErzStrassenname, colErzHausNr, colErzHausNrZusatz, colErzOrtID, colErzPLZ,
		colErzEmail, colErzEmail2, colBemerkungen,
	}
	return p.runTablePass(passGuardians, tableGuardians, wanted, func(rd *rowReader, row srcdb.Row, cs *changeSet) error {
		var ward substitutedPerson
		if wardID, ok := nullInt64(rd.get(row, colSchuelerID)); ok {
			ward = p.wards[wardID]
		}
		primary := anonengine.Primary{FirstName: ward.FirstName, CityID: ward.CityID, HasCity: ward.HasCity}
		var code int64
		if c, ok := nullInt64(rd.get(row, colErzieherArtID)); ok {
			code = c
		}

		var displayFirst, displayLast string
		for i, slot := range guardianSlots {
			oldVorname := rd.get(row, slot.vorname)
			oldName := rd.get(row, slot.name)
			firstName := ""
			if present(oldVorname) {
				firstName = strings.TrimSpace(oldVorname.String)
			}
			lastName := ""
			if present(oldName) {
				lastName = strings.TrimSpace(oldName.String)
			}
			if firstName == "" && lastName == "" {
				continue
			}
			newFirst, newLast := p.resolver.DeriveName(primary, code, rd.get(row, slot.anrede).String, firstName, lastName)
			if present(oldVorname) {
				cs.set(slot.vorname, oldVorname, newFirst)
			}
			if present(oldName) {
				cs.set(slot.name, oldName, newLast)
			}
			if i == 0 {
				displayFirst, displayLast = newFirst, newLast
			}
		}

		oldStreet := rd.get(row, colErzStrassenname)
		oldHausNr := rd.get(row, colErzHausNr)
		oldOrt := rd.get(row, colErzOrtID)
		oldPLZ := rd.get(row, colErzPLZ)
		cs.clear(colErzHausNrZusatz, rd.get(row, colErzHausNrZusatz))
		if present(oldStreet) || present(oldHausNr) || present(oldOrt) || present(oldPLZ) {
			var priorCityID int64
			if id, ok := nullInt64(oldOrt); ok {
				priorCityID = id
			}
			addr := p.resolver.DeriveAddress(primary, priorCityID)
			if present(oldStreet) {
				cs.set(colErzStrassenname, oldStreet, addr.Street)
			}
			if present(oldHausNr) {
				cs.set(colErzHausNr, oldHausNr, addr.HouseNumber)
			}
			if present(oldOrt) {
				if addr.HasCity {
					cs.set(colErzOrtID, oldOrt, strconv.FormatInt(addr.CityID, 10))
				} else {
					cs.clear(colErzOrtID, oldOrt)
				}
			}
			if present(oldPLZ) {
				cs.set(colErzPLZ, oldPLZ, p.guardianPLZ(addr))
			}
		}

		for _, emailCol := range []string{colErzEmail, colErzEmail2} {
			oldEmail := rd.get(row, emailCol)
			if !present(oldEmail) {
				continue
			}
			if derived := p.resolver.DeriveEmail(displayFirst, displayLast); derived != "" {
				cs.set(emailCol, oldEmail, derived)
			} else {
				cs.clear(emailCol, oldEmail)
			}
		}

		if oldRemark := rd.get(row, colBemerkungen); present(oldRemark) {
			cs.set(colBemerkungen, oldRemark, remarkSentinel)
		}
		return nil
	})
}

// guardianPLZ keeps the postcode coherent with the propagated city when the
// catalogue knows it.
func (p *Pipeline) guardianPLZ(addr anonengine.DependentAddress) string {
	if addr.HasCity {
		if city, ok := p.cityByID[addr.CityID]; ok && city.PLZ != "" {
			return city.PLZ
		}
	}
	return FakePLZ(p.rs)
}

// anonymizeTeachers rewrites K_Lehrer, including the unique Kürzel and PANr
// allocations, and caches the identities for the credential pass.
func (p *Pipeline) anonymizeTeachers() error {
	wanted := []string{
		colGeschlecht, colVorname, colNachname, colKuerzel, colPANr,
		colStrassenname, colHausNr, colHausNrZusatz, colOrtID, colPLZ,
		colGeburtsdatum, colTelefon, colHandy, colEmail, colEmailDienstlich,
		colCredentialID,
	}
	return p.runTablePass(passTeachers, tableTeachers, wanted, func(rd *rowReader, row srcdb.Row, cs *changeSet) error {
		gender := genderFromCode(rd.get(row, colGeschlecht))

		newFirst := ""
		if oldVorname := rd.get(row, colVorname); present(oldVorname) {
			newFirst = p.mapper.Resolve(strings.TrimSpace(oldVorname.String), gender)
			cs.set(colVorname, oldVorname, newFirst)
		}
		newLast := ""
		if oldName := rd.get(row, colNachname); present(oldName) {
			newLast = p.mapper.ResolveSurname(strings.TrimSpace(oldName.String))
			cs.set(colNachname, oldName, newLast)
		}
		// The Kürzel is derived from the substituted surname; a row without a
		// surname keeps its Kürzel rather than getting a code from nothing.
		if oldKuerzel := rd.get(row, colKuerzel); present(oldKuerzel) && newLast != "" {
			cs.set(colKuerzel, oldKuerzel, anonengine.AllocateKuerzel(p.domains.kuerzel, p.rs, newLast))
		}
		if oldPANr := rd.get(row, colPANr); present(oldPANr) {
			cs.set(colPANr, oldPANr, anonengine.AllocateNumeric(p.domains.panr, p.rs, 100000, 999999, 6))
		}

		p.substituteAddress(rd, row, cs, personAddressColumns)

		if oldGebDat := rd.get(row, colGeburtsdatum); present(oldGebDat) {
			cs.set(colGeburtsdatum, oldGebDat, anonengine.JitterDate(p.rs, strings.TrimSpace(oldGebDat.String)))
		}
		if oldTelefon := rd.get(row, colTelefon); present(oldTelefon) {
			cs.set(colTelefon, oldTelefon, FakePhone(p.rs))
		}
		if oldHandy := rd.get(row, colHandy); present(oldHandy) {
			cs.set(colHandy, oldHandy, FakePhone(p.rs))
		}
		if oldDienst := rd.get(row, colEmailDienstlich); present(oldDienst) {
			cs.set(colEmailDienstlich, oldDienst, p.allocateEmail(p.domains.dienstEmail, newFirst, newLast, p.opts.DienstEmailDomain))
		}
		if oldEmail := rd.get(row, colEmail); present(oldEmail) {
			cs.set(colEmail, oldEmail, p.allocateEmail(p.domains.privateEmail, newFirst, newLast, p.opts.PrivateEmailDomain))
		}

		if credID, ok := nullInt64(rd.get(row, colCredentialID)); ok {
			p.credentialOwners[credID] = substitutedPerson{FirstName: newFirst, LastName: newLast}
		}
		return nil
	})
}

// anonymizeCredentials reallocates usernames from the owner's substituted
// name and resets every secret so SVWS re-issues them at next login.
func (p *Pipeline) anonymizeCredentials() error {
	wanted := []string{
		colBenutzername, colInitialkennwort,
		colPasswordHash, colRSAPublicKey, colRSAPrivateKey, colAES,
	}
	return p.runTablePass(passCredentials, tableCredentials, wanted, func(rd *rowReader, row srcdb.Row, cs *changeSet) error {
		if oldUsername := rd.get(row, colBenutzername); present(oldUsername) {
			var owner substitutedPerson
			if id, ok := pkInt64(row.PKValues[0]); ok {
				owner = p.credentialOwners[id]
			}
			local := anonengine.EmailLocalPart(owner.FirstName, owner.LastName)
			if local == "" {
				// Orphaned credential: no student or teacher row claimed it.
				local = anonengine.EmailLocalPart(p.mapper.Resolve(strings.TrimSpace(oldUsername.String), anonengine.GenderNone), "")
			}
			cs.set(colBenutzername, oldUsername, p.domains.usernames.Allocate(local, anonengine.UsernameSuffix))
		}
		if oldPw := rd.get(row, colInitialkennwort); present(oldPw) {
			pw, err := NewInitialPassword(initialPasswordLength)
			if err != nil {
				return fmt.Errorf("generating an initial password: %w", err)
			}
			cs.set(colInitialkennwort, oldPw, pw)
		}
		cs.clear(colPasswordHash, rd.get(row, colPasswordHash))
		cs.clear(colRSAPublicKey, rd.get(row, colRSAPublicKey))
		cs.clear(colRSAPrivateKey, rd.get(row, colRSAPrivateKey))
		cs.clear(colAES, rd.get(row, colAES))
		return nil
	})
}

// wipePhotos deletes the photo tables outright. A portrait has no plausible
// substitute.
func (p *Pipeline) wipePhotos() error {
	for _, tableName := range []string{tableStudentPhotos, tableTeacherPhotos} {
		caps := p.capFor(tableName)
		if caps == nil {
			p.reportSkip(passPhotos, tableName, "table not present")
			continue
		}
		count, err := p.db.CountRows(caps.Table)
		if err != nil {
			return fmt.Errorf("counting %s: %w", caps.Table, err)
		}
		if p.opts.DryRun {
			log.Infof("dry run: would delete %d rows from %s", count, caps.Table)
			p.report.addTable(&TableReport{Table: caps.Table, Pass: passPhotos, RowsScanned: count, RowsDeleted: count})
			continue
		}
		tx, err := p.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction on %s: %w", caps.Table, err)
		}
		deleted, err := srcdb.DeleteAllRows(tx, caps.Table)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Errorf("rolling back %s: %v", caps.Table, rbErr)
			}
			return fmt.Errorf("deleting from %s: %w", caps.Table, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing %s: %w", caps.Table, err)
		}
		p.report.addTable(&TableReport{Table: caps.Table, Pass: passPhotos, RowsScanned: count, RowsDeleted: deleted})
		log.Infof("photo table %s cleared: %d rows deleted", caps.Table, deleted)
	}
	return nil
}
