package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/consensus"
	"github.com/Benedikt1992/blockchain-vaccination-records/controller"
	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

// runREPL mirrors the original console client's two START_CLI modes: an
// admission runs the on-demand block-creation console, everyone else gets
// the transaction-submission console.
func runREPL(ctrl *controller.Controller, scheduler *consensus.Scheduler, priv crypto.PrivateKey, pub crypto.PublicKey) {
	if os.Getenv("REGISTER_AS_ADMISSION") != "" {
		runBlockCreationREPL(ctrl, scheduler)
		return
	}
	runTransactionREPL(ctrl, priv, pub)
}

func runTransactionREPL(ctrl *controller.Controller, priv crypto.PrivateKey, pub crypto.PublicKey) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("What kind of transaction should be created? (vaccination/vaccine/permission)")
		kind := readLine(reader)
		switch kind {
		case "vaccination":
			createVaccinationTx(reader, ctrl, priv, pub)
		case "vaccine":
			createVaccineTx(reader, ctrl, priv, pub)
		case "permission":
			createPermissionTx(reader, ctrl, priv, pub)
		default:
			fmt.Printf("Invalid option %q, aborting.\n", kind)
		}
	}
}

func runBlockCreationREPL(ctrl *controller.Controller, scheduler *consensus.Scheduler) {
	reader := bufio.NewReader(os.Stdin)
	for {
		ctrl.Chain.Lock()
		leaves := ctrl.Chain.GetLeaves()
		ctrl.Chain.Unlock()
		fmt.Println("Available leaf block hashes:")
		for _, leaf := range leaves {
			fmt.Println(" ", leaf.Hash)
		}
		fmt.Println("Enter a leaf hash to append to, or 'r' to refresh:")
		choice := readLine(reader)
		if choice == "r" || choice == "" {
			continue
		}
		if err := scheduler.ProduceOnLeafHash(choice); err != nil {
			fmt.Println("failed to create block:", err)
			continue
		}
		fmt.Println("Block created and broadcast.")
	}
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.ToLower(strings.TrimSpace(line))
}

func confirmAndSubmit(reader *bufio.Reader, ctrl *controller.Controller, tx *core.Transaction) {
	fmt.Println("Created transaction:")
	data, _ := tx.CanonicalJSON()
	fmt.Println(string(data))
	fmt.Println("Submit signed transaction now? (y/n)")
	switch readLine(reader) {
	case "y":
		payload, err := tx.CanonicalJSON()
		if err != nil {
			fmt.Println("failed to marshal transaction:", err)
			return
		}
		ctrl.ReceiveTransaction(payload)
		fmt.Println("Transaction submitted to local mempool and broadcast.")
	case "n":
		fmt.Println("Transaction not submitted, aborting.")
	default:
		fmt.Println("Invalid option, aborting.")
	}
}

func createVaccinationTx(reader *bufio.Reader, ctrl *controller.Controller, priv crypto.PrivateKey, pub crypto.PublicKey) {
	fmt.Println("Which vaccine was given?")
	vaccine := readLine(reader)
	// A real deployment would collect the patient's own signature out of
	// band; this REPL mocks a patient key the way the original console
	// client does, for local experimentation only.
	patientPriv, patientPub, err := crypto.GenerateKeyPair()
	if err != nil {
		fmt.Println("failed to mock a patient key:", err)
		return
	}
	tx := core.NewVaccinationTransaction(pub, patientPub, vaccine, core.ProtocolVersion, time.Now().Unix())
	if err := tx.Sign(priv, patientPriv); err != nil {
		fmt.Println("failed to sign transaction:", err)
		return
	}
	confirmAndSubmit(reader, ctrl, tx)
}

func createVaccineTx(reader *bufio.Reader, ctrl *controller.Controller, priv crypto.PrivateKey, pub crypto.PublicKey) {
	fmt.Println("Which vaccine should be registered?")
	vaccine := readLine(reader)
	tx := core.NewVaccineTransaction(pub, vaccine, core.ProtocolVersion, time.Now().Unix())
	if err := tx.Sign(priv); err != nil {
		fmt.Println("failed to sign transaction:", err)
		return
	}
	confirmAndSubmit(reader, ctrl, tx)
}

func createPermissionTx(reader *bufio.Reader, ctrl *controller.Controller, priv crypto.PrivateKey, pub crypto.PublicKey) {
	fmt.Println("Which permission should be granted? (patient/doctor/admission)")
	kind := core.PermissionKind(readLine(reader))
	switch kind {
	case core.PermissionPatient, core.PermissionDoctor, core.PermissionAdmission:
	default:
		fmt.Printf("Invalid option %q, aborting.\n", kind)
		return
	}
	tx := core.NewPermissionTransaction(kind, pub, core.ProtocolVersion, time.Now().Unix())
	if err := tx.Sign(priv); err != nil {
		fmt.Println("failed to sign transaction:", err)
		return
	}
	confirmAndSubmit(reader, ctrl, tx)
}
