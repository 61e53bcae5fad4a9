// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "pixelset")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/pixelset.log")

	viper.SetDefault("datastore.sqlite.enabled", true)
	viper.SetDefault("datastore.sqlite.path", "pixelset.db")
	viper.SetDefault("datastore.mysql.enabled", false)
	viper.SetDefault("datastore.mysql.username", "pixelset")
	viper.SetDefault("datastore.mysql.password", "")
	viper.SetDefault("datastore.mysql.database", "pixelset")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")

	viper.SetDefault("import.name", "")
	viper.SetDefault("import.type", "classification")
	viper.SetDefault("import.split", "")
	viper.SetDefault("import.datapath", "CameraRGB")
	viper.SetDefault("import.labelspath", "CameraSeg")
	viper.SetDefault("import.shuffle", true)

	viper.SetDefault("fetch.url", "https://github.com/ongchinkiat/LyftPerceptionChallenge/releases/download/v0.1/carla-capture-20180513A.zip")
	viper.SetDefault("fetch.dir", "/tmp/carla_data")
	viper.SetDefault("fetch.timeout", 300)

	viper.SetDefault("train.dataset", "")
	viper.SetDefault("train.backbone", "mobilenetv3_large_100")
	viper.SetDefault("train.backbonemodelpath", "")
	viper.SetDefault("train.head", "fpn")
	viper.SetDefault("train.numclasses", 21)
	viper.SetDefault("train.batchsize", 4)
	viper.SetDefault("train.imagesize", 256)
	viper.SetDefault("train.maxepochs", 1)
	viper.SetDefault("train.limittrainbatches", 10)
	viper.SetDefault("train.limitvalbatches", 5)
	viper.SetDefault("train.strategy", "freeze")
	viper.SetDefault("train.learningrate", 0.01)
	viper.SetDefault("train.threads", 0)
	viper.SetDefault("train.checkpoint", "/tmp/semantic_segmentation_model.ckpt")
	viper.SetDefault("train.predicttake", 5)
	viper.SetDefault("train.predictfield", "predictions")
	viper.SetDefault("train.maskdir", "/tmp/pixelset_masks")

	viper.SetDefault("webserver.enabled", false)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.log.enabled", true)
	viper.SetDefault("webserver.log.path", "logs/webserver.log")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
