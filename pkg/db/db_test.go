package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thep200/github-contrib-scanner/cfg"
)

func TestDSNs(t *testing.T) {
	config := &cfg.Config{Database: cfg.Database{
		Host: "db", Port: "5432", Username: "u", Password: "p", Database: "contrib",
	}}
	d, _ := NewDatabase(config)

	assert.Contains(t, d.MysqlDSN(), "u:p@tcp(db:5432)/contrib")
	assert.Contains(t, d.MysqlDSN(), "parseTime=true")
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=contrib sslmode=disable TimeZone=UTC", d.PostgresDSN())
}

func TestDialector_Unsupported(t *testing.T) {
	d, _ := NewDatabase(&cfg.Config{Database: cfg.Database{Driver: "oracle"}})
	_, err := d.Dialector()
	assert.Error(t, err)

	_, err = d.Db()
	assert.Error(t, err)
}

func TestSqliteMemory(t *testing.T) {
	d, _ := NewDatabase(&cfg.Config{Database: cfg.Database{Driver: "sqlite", Database: ":memory:"}})
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Ping())

	type probe struct {
		ID   uint
		Name string
	}
	require.NoError(t, d.Migrate(&probe{}))

	gdb, err := d.Db()
	require.NoError(t, err)
	require.NoError(t, gdb.Create(&probe{Name: "x"}).Error)

	var count int64
	require.NoError(t, gdb.Model(&probe{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
