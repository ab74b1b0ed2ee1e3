// marketagent — агент выполнения задач маркетплейсов.
//
// Использование:
//
//	marketagent [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	run       Запустить агент
//	check     Проверить Instruction по политике guard
//	token     Работа с credentials
//	ping      Проверить доступность URL
//	status    Состояние запущенного агента
//	outcomes  Последние итоги задач
//	poll      Внеочередной poll
//	events    Читать события task.outcome из RabbitMQ
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/marketagent/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
